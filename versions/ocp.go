package versions

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultReleaseStreamURL lists accepted OpenShift release streams.
const DefaultReleaseStreamURL = "https://amd64.ocp.releases.ci.openshift.org/api/v1/releasestreams/accepted"

var majorMinor = regexp.MustCompile(`^\d+\.\d+$`)

// OCPResolver turns a major.minor version tag into the newest full
// release in a stream.
type OCPResolver struct {
	// BaseURL overrides the release stream endpoint, used by tests.
	BaseURL string
	Client  *http.Client
}

func (r *OCPResolver) url() string {
	if r.BaseURL != "" {
		return r.BaseURL
	}
	return DefaultReleaseStreamURL
}

func (r *OCPResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Resolve returns the latest stable release for versionTag, e.g. "4.16"
// resolves to "4.16.30". Only the stable channel is published in the
// accepted stream listing.
func (r *OCPResolver) Resolve(versionTag, channel string) (string, error) {
	if !majorMinor.MatchString(versionTag) {
		return "", errors.Errorf("invalid version tag %q, expected major.minor", versionTag)
	}
	if channel == "" {
		channel = "stable"
	}
	if channel != "stable" {
		return "", errors.Errorf("channel %q is not supported, only stable", channel)
	}

	resp, err := r.client().Get(r.url())
	if err != nil {
		return "", errors.Wrap(err, "fetching release streams")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("release stream endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading release streams")
	}

	var streams map[string][]string
	if err := json.Unmarshal(body, &streams); err != nil {
		return "", errors.Wrap(err, "parsing release streams")
	}
	streamKey := "4-stable"
	releases, ok := streams[streamKey]
	if !ok {
		return "", errors.Errorf("stream %s not present in the release listing", streamKey)
	}

	var candidates []*semver.Version
	prefix := versionTag + "."
	for _, release := range releases {
		v, err := semver.StrictNewVersion(release)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if len(release) > len(prefix) && release[:len(prefix)] == prefix {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", errors.Errorf("no stable releases found for %s", versionTag)
	}
	sort.Sort(semver.Collection(candidates))
	latest := candidates[len(candidates)-1].String()
	logrus.Infof("resolved OCP %s to %s", versionTag, latest)
	return latest, nil
}
