package github

import (
	"regexp"

	"github.com/gosimple/slug"
)

var (
	httpsURLPattern = regexp.MustCompile(`(?i)github\.com/([^/]+)/([^/.]+)(\.git)?`)
	sshURLPattern   = regexp.MustCompile(`(?i)git@github\.com:([^/]+)/([^/.]+)(\.git)?`)
)

// RepoRef names a repository.
type RepoRef struct {
	Owner string
	Repo  string
}

// ParseURL extracts owner and repository from HTTPS or SSH GitHub URLs:
//
//	https://github.com/owner/repo(.git)
//	git@github.com:owner/repo(.git)
func ParseURL(rawURL string) (RepoRef, bool) {
	m := httpsURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		m = sshURLPattern.FindStringSubmatch(rawURL)
	}
	if m == nil {
		return RepoRef{}, false
	}
	return RepoRef{Owner: m[1], Repo: m[2]}, true
}

// SuggestRepoName turns a vault name into a repository name.
func SuggestRepoName(vaultName string) string {
	if s := slug.Make(vaultName); s != "" {
		return s
	}
	return "my-vault"
}
