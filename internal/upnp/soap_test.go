// ABOUTME: Tests for the SOAP control client
// ABOUTME: Covers envelope rendering, fault classification, and transport failures
package upnp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/armintoepfer/solo/internal/zone"
)

// fakeDevice starts a test server and returns its host:port control address.
func fakeDevice(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func soapOK(serviceType, action, inner string) string {
	return `<?xml version="1.0"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:` + action + `Response xmlns:u="` + serviceType + `">` + inner +
		`</u:` + action + `Response></s:Body></s:Envelope>`
}

func soapFault(code string) string {
	return `<?xml version="1.0"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>` +
		`<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0">` +
		`<errorCode>` + code + `</errorCode></UPnPError></detail>` +
		`</s:Fault></s:Body></s:Envelope>`
}

func TestCallSendsSOAPAction(t *testing.T) {
	var gotAction, gotPath, gotBody string
	addr := fakeDevice(t, func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPACTION")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(soapOK(AVTransport.Type, "Play", "")))
	})

	c := NewClient()
	if err := c.Play(context.Background(), addr); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	want := `"urn:schemas-upnp-org:service:AVTransport:1#Play"`
	if gotAction != want {
		t.Errorf("expected SOAPACTION %s, got %s", want, gotAction)
	}
	if gotPath != AVTransport.ControlPath {
		t.Errorf("expected control path %s, got %s", AVTransport.ControlPath, gotPath)
	}
	if !strings.Contains(gotBody, "<Speed>1</Speed>") {
		t.Errorf("expected body to carry Speed argument, got %s", gotBody)
	}
	if !strings.Contains(gotBody, "<InstanceID>0</InstanceID>") {
		t.Errorf("expected body to carry InstanceID, got %s", gotBody)
	}
}

func TestCallEscapesArguments(t *testing.T) {
	var gotBody string
	addr := fakeDevice(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(soapOK(AVTransport.Type, "SetAVTransportURI", "")))
	})

	c := NewClient()
	err := c.JoinGroup(context.Background(), addr, "RINCON_A<&>B")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if strings.Contains(gotBody, "RINCON_A<&>B") {
		t.Errorf("expected argument to be escaped, got %s", gotBody)
	}
	if !strings.Contains(gotBody, "RINCON_A&lt;&amp;&gt;B") {
		t.Errorf("expected escaped argument in body, got %s", gotBody)
	}
}

func TestCallFaultIsCommandRejected(t *testing.T) {
	addr := fakeDevice(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(soapFault("701")))
	})

	c := NewClient()
	err := c.Pause(context.Background(), addr)
	if err == nil {
		t.Fatal("expected error for SOAP fault")
	}
	if !errors.Is(err, zone.ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "701") {
		t.Errorf("expected error to carry upnp error code, got: %v", err)
	}
}

func TestCallHTTPErrorIsCommandRejected(t *testing.T) {
	addr := fakeDevice(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c := NewClient()
	err := c.Pause(context.Background(), addr)
	if !errors.Is(err, zone.ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected for http 502, got %v", err)
	}
}

func TestCallUnreachableDevice(t *testing.T) {
	// Reserve an address and close it so the connection is refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	c := NewClient()
	err := c.Play(context.Background(), addr)
	if err == nil {
		t.Fatal("expected error for unreachable device")
	}
	if !errors.Is(err, zone.ErrDeviceUnreachable) {
		t.Errorf("expected ErrDeviceUnreachable, got %v", err)
	}
}

func TestCallTimeoutIsUnreachable(t *testing.T) {
	addr := fakeDevice(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient()
	err := c.Play(ctx, addr)
	if !errors.Is(err, zone.ErrDeviceUnreachable) {
		t.Errorf("expected ErrDeviceUnreachable on timeout, got %v", err)
	}
}

func TestServiceByName(t *testing.T) {
	for _, svc := range Services {
		got, ok := ServiceByName(svc.Name)
		if !ok {
			t.Errorf("expected to resolve service %s", svc.Name)
			continue
		}
		if got.Type != svc.Type {
			t.Errorf("expected type %s for %s, got %s", svc.Type, svc.Name, got.Type)
		}
	}

	if _, ok := ServiceByName("bogus"); ok {
		t.Error("expected unknown service name to fail")
	}
}

func TestXMLTextIgnoresNamespacePrefix(t *testing.T) {
	doc := []byte(`<root xmlns:x="urn:x"><x:Value>hello</x:Value></root>`)
	got, ok := xmlText(doc, "Value")
	if !ok {
		t.Fatal("expected to find element")
	}
	if got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestXMLTextSkipsNestedElements(t *testing.T) {
	doc := []byte(`<root><Outer>before<Inner>nested</Inner>after</Outer></root>`)
	got, ok := xmlText(doc, "Outer")
	if !ok {
		t.Fatal("expected to find element")
	}
	if got != "beforeafter" {
		t.Errorf("expected direct text only, got %q", got)
	}
}
