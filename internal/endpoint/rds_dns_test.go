package endpoint

import "testing"

const (
	usEastCluster         = "database-test-name.cluster-XYZ.us-east-2.rds.amazonaws.com"
	usEastClusterReadOnly = "database-test-name.cluster-ro-XYZ.us-east-2.rds.amazonaws.com"
	usEastInstance        = "instance-test-name.XYZ.us-east-2.rds.amazonaws.com"
	usEastProxy           = "proxy-test-name.proxy-XYZ.us-east-2.rds.amazonaws.com"
	usEastCustom          = "custom-test-name.cluster-custom-XYZ.us-east-2.rds.amazonaws.com"

	chinaCluster = "database-test-name.cluster-XYZ.rds.cn-northwest-1.amazonaws.com.cn"
	chinaProxy   = "proxy-test-name.proxy-XYZ.rds.cn-northwest-1.amazonaws.com.cn"
)

func TestIsRDSDNS(t *testing.T) {
	for _, host := range []string{usEastCluster, usEastClusterReadOnly, usEastProxy, usEastCustom, chinaCluster, chinaProxy} {
		if !IsRDSDNS(host) {
			t.Errorf("expected %q to match RDS DNS pattern", host)
		}
	}
	if IsRDSDNS("example.com") {
		t.Error("example.com should not match RDS DNS pattern")
	}
}

func TestIsRDSClusterDNS(t *testing.T) {
	if !IsRDSClusterDNS(usEastCluster) || !IsRDSClusterDNS(usEastClusterReadOnly) {
		t.Error("expected cluster hosts to match")
	}
	if IsRDSClusterDNS(usEastProxy) || IsRDSClusterDNS(usEastCustom) {
		t.Error("proxy/custom hosts should not match plain cluster pattern")
	}
}

func TestIsRDSWriterVsReaderClusterDNS(t *testing.T) {
	if !IsRDSWriterClusterDNS(usEastCluster) {
		t.Error("expected writer cluster host to match writer pattern")
	}
	if IsRDSWriterClusterDNS(usEastClusterReadOnly) {
		t.Error("reader cluster host should not match writer pattern")
	}
	if !IsRDSReaderClusterDNS(usEastClusterReadOnly) {
		t.Error("expected reader cluster host to match reader pattern")
	}
}

func TestIsRDSProxyDNS(t *testing.T) {
	if !IsRDSProxyDNS(usEastProxy) || !IsRDSProxyDNS(chinaProxy) {
		t.Error("expected proxy hosts to match")
	}
	if IsRDSProxyDNS(usEastCluster) {
		t.Error("cluster host should not match proxy pattern")
	}
}

func TestIsRDSCustomClusterDNS(t *testing.T) {
	if !IsRDSCustomClusterDNS(usEastCustom) {
		t.Error("expected custom cluster host to match")
	}
	if IsRDSCustomClusterDNS(usEastCluster) {
		t.Error("plain cluster host should not match custom pattern")
	}
}

func TestGetRDSClusterID(t *testing.T) {
	if id := GetRDSClusterID(usEastCluster); id != "database-test-name" {
		t.Errorf("unexpected cluster id: %q", id)
	}
	if id := GetRDSClusterID(usEastInstance); id != "" {
		t.Errorf("expected empty cluster id for instance host, got %q", id)
	}
}

func TestGetRDSInstanceHostPattern(t *testing.T) {
	pattern := GetRDSInstanceHostPattern(usEastCluster)
	if pattern != "?.XYZ.us-east-2.rds.amazonaws.com" {
		t.Errorf("unexpected host pattern: %q", pattern)
	}
}

func TestIsIPv4AndIPv6(t *testing.T) {
	if !IsIPv4("10.0.0.1") {
		t.Error("expected 10.0.0.1 to be IPv4")
	}
	if IsIPv4(usEastCluster) {
		t.Error("cluster DNS should not be IPv4")
	}
	if !IsIPv6("2001:0db8:0000:0000:0000:ff00:0042:8329") {
		t.Error("expected full-form address to be IPv6")
	}
}
