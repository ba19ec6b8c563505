package versions

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCPResolvePicksLatestStable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"4-stable":["4.15.44","4.16.2","4.16.30","4.16.10","4.16.31-rc.0","4.17.1"]}`))
	}))
	defer srv.Close()

	r := &OCPResolver{BaseURL: srv.URL}
	v, err := r.Resolve("4.16", "stable")
	require.NoError(t, err)
	assert.Equal(t, "4.16.30", v)
}

func TestOCPResolveRejectsBadTag(t *testing.T) {
	r := &OCPResolver{}
	for _, bad := range []string{"4", "4.16.2", "latest", ""} {
		_, err := r.Resolve(bad, "stable")
		assert.Error(t, err, bad)
	}
}

func TestOCPResolveRejectsUnknownChannel(t *testing.T) {
	r := &OCPResolver{}
	_, err := r.Resolve("4.16", "candidate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only stable")
}

func TestOCPResolveNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"4-stable":["4.15.44"]}`))
	}))
	defer srv.Close()

	r := &OCPResolver{BaseURL: srv.URL}
	_, err := r.Resolve("4.16", "stable")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stable releases")
}

func TestResolveFullVersionPassthrough(t *testing.T) {
	v, err := ResolveOCPVersion("4.16.5", "stable")
	require.NoError(t, err)
	assert.Equal(t, "4.16.5", v)

	v, err = ResolveGPUOperatorVersion("1.4.1")
	require.NoError(t, err)
	assert.Equal(t, "1.4.1", v)
}

func TestParseVersionsFromTags(t *testing.T) {
	tags := []string{
		"gpu-operator-charts-v1.4.0",
		"gpu-operator-charts-v1.4.1",
		"v1.3.0",
		"1.2.2",
		"v1.5.0",
		"not-a-release",
	}
	certified, pending := ParseVersionsFromTags(tags)

	assert.Equal(t, map[string]string{
		"1.4": "1.4.1",
		"1.2": "1.2.2",
	}, certified)
	assert.Equal(t, map[string]string{
		"1.3": "1.3.0",
		"1.5": "1.5.0",
	}, pending)
}

func TestGPUResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.Write([]byte(`[
			{"tag_name":"gpu-operator-charts-v1.4.1","draft":false},
			{"tag_name":"gpu-operator-charts-v1.4.2","draft":true},
			{"tag_name":"v1.3.0","draft":false}
		]`))
	}))
	defer srv.Close()

	r := &GPUResolver{BaseURL: srv.URL}
	v, err := r.Resolve("1.4")
	require.NoError(t, err)
	assert.Equal(t, "1.4.1", v, "draft releases do not count")

	_, err = r.Resolve("1.3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certified gpu-operator release")
}
