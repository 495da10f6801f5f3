package consultest_test

import (
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/oliora/ppconsul-sub000/internal/consultest"
)

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestAgent_requiresToken(t *testing.T) {
	a := consultest.New(t, consultest.WithACLToken("secret"))

	resp, body := get(t, a.URL()+"/v1/status/leader", nil)
	if resp.StatusCode != http.StatusForbidden || body != "Permission denied" {
		t.Errorf("without token: got %d %q", resp.StatusCode, body)
	}

	resp, _ = get(t, a.URL()+"/v1/status/leader", http.Header{"X-Consul-Token": {"secret"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: got %d", resp.StatusCode)
	}
}

func TestAgent_unknownDatacenter(t *testing.T) {
	a := consultest.New(t, consultest.WithDatacenter("east"))

	resp, body := get(t, a.URL()+"/v1/catalog/nodes?dc=west", nil)
	if resp.StatusCode != http.StatusInternalServerError || body != "No path to datacenter" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
	resp, _ = get(t, a.URL()+"/v1/catalog/nodes?dc=east", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("own datacenter: got %d", resp.StatusCode)
	}
}

func TestAgent_blockingRead(t *testing.T) {
	a := consultest.New(t)
	idx := a.SetKey("k", "v1")

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.SetKey("k", "v2")
	}()

	start := time.Now()
	resp, _ := get(t, a.URL()+"/v1/kv/k?index="+strconv.FormatUint(idx, 10)+"&wait=5s", nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("blocking read not woken by write, took %v", elapsed)
	}
	got, err := strconv.ParseUint(resp.Header.Get("X-Consul-Index"), 10, 64)
	if err != nil || got <= idx {
		t.Errorf("X-Consul-Index: got %q, want > %d", resp.Header.Get("X-Consul-Index"), idx)
	}
	if v, _ := a.Key("k"); v != "v2" {
		t.Errorf("value: got %q, want v2", v)
	}
}

func TestAgent_blockingReadTimesOut(t *testing.T) {
	a := consultest.New(t, consultest.WithMaxWait(100*time.Millisecond))
	idx := a.SetKey("k", "v1")

	start := time.Now()
	resp, _ := get(t, a.URL()+"/v1/kv/k?index="+strconv.FormatUint(idx, 10)+"&wait=5s", nil)
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("elapsed %v, want about the max wait", elapsed)
	}
	if got := resp.Header.Get("X-Consul-Index"); got != strconv.FormatUint(idx, 10) {
		t.Errorf("X-Consul-Index: got %q, want %d", got, idx)
	}
	if a.LastRequest().Query.Get("wait") != "5s" {
		t.Errorf("recorded query: %v", a.LastRequest().Query)
	}
}
