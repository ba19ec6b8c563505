package versions

import "regexp"

var fullVersion = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ResolveOCPVersion resolves a major.minor tag to the newest stable
// release. A full X.Y.Z version passes through untouched.
func ResolveOCPVersion(version, channel string) (string, error) {
	if fullVersion.MatchString(version) {
		return version, nil
	}
	r := &OCPResolver{}
	return r.Resolve(version, channel)
}

// ResolveGPUOperatorVersion resolves a major.minor tag to the latest
// certified gpu-operator release. A full X.Y.Z version passes through
// untouched.
func ResolveGPUOperatorVersion(version string) (string, error) {
	if fullVersion.MatchString(version) {
		return version, nil
	}
	r := &GPUResolver{}
	return r.Resolve(version)
}
