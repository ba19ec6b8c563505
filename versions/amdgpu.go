package versions

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultGPUReleasesURL lists releases of the AMD GPU operator.
const DefaultGPUReleasesURL = "https://api.github.com/repos/ROCm/gpu-operator/releases"

var (
	tagFull   = regexp.MustCompile(`^gpu-operator-charts-v(\d+)\.(\d+)\.(\d+)$`)
	tagSimple = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)$`)
)

// GPUResolver resolves an AMD GPU operator major.minor to the latest
// certified patch from the upstream GitHub releases.
type GPUResolver struct {
	// BaseURL overrides the releases endpoint, used by tests.
	BaseURL string
	Client  *http.Client
}

func (r *GPUResolver) url() string {
	if r.BaseURL != "" {
		return r.BaseURL
	}
	return DefaultGPUReleasesURL
}

func (r *GPUResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// FetchReleaseTags returns the non-draft release tags.
func (r *GPUResolver) FetchReleaseTags() ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, r.url()+"?per_page=100", nil)
	if err != nil {
		return nil, errors.Wrap(err, "building releases request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := firstEnv("GITHUB_TOKEN", "GH_AUTH_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching gpu-operator releases")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("gpu-operator releases endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading gpu-operator releases")
	}

	var releases []struct {
		TagName string `json:"tag_name"`
		Draft   bool   `json:"draft"`
	}
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, errors.Wrap(err, "parsing gpu-operator releases")
	}
	var tags []string
	for _, rel := range releases {
		if !rel.Draft {
			tags = append(tags, rel.TagName)
		}
	}
	return tags, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ParseVersionsFromTags splits release tags into certified and pending
// versions keyed by major.minor. A minor release counts as certified
// once it has a patch release above zero; until then its newest version
// sits in pending.
func ParseVersionsFromTags(tags []string) (certified, pending map[string]string) {
	newest := map[string]*semver.Version{}
	hasCertifiedPatch := map[string]bool{}

	for _, tag := range tags {
		m := tagFull.FindStringSubmatch(tag)
		if m == nil {
			m = tagSimple.FindStringSubmatch(tag)
		}
		if m == nil {
			continue
		}
		v, err := semver.StrictNewVersion(fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3]))
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%d.%d", v.Major(), v.Minor())
		if cur, ok := newest[key]; !ok || v.GreaterThan(cur) {
			newest[key] = v
		}
		if v.Patch() != 0 {
			hasCertifiedPatch[key] = true
		}
	}

	certified = map[string]string{}
	pending = map[string]string{}
	for key, v := range newest {
		if hasCertifiedPatch[key] {
			certified[key] = v.String()
		} else {
			pending[key] = v.String()
		}
	}
	return certified, pending
}

// Resolve turns a major.minor like "1.4" into its latest certified
// patch release like "1.4.1".
func (r *GPUResolver) Resolve(version string) (string, error) {
	tags, err := r.FetchReleaseTags()
	if err != nil {
		return "", err
	}
	certified, _ := ParseVersionsFromTags(tags)
	resolved, ok := certified[version]
	if !ok {
		available := make([]string, 0, len(certified))
		for key := range certified {
			available = append(available, key)
		}
		sort.Strings(available)
		return "", errors.Errorf(
			"no certified gpu-operator release for %s, certified versions: %s, see https://github.com/ROCm/gpu-operator/releases",
			version, strings.Join(available, ", "))
	}
	logrus.Infof("resolved AMD GPU operator %s to %s", version, resolved)
	return resolved, nil
}
