// Package gitutil parses the GitHub repository references users type
// into chat: SSH and HTTPS clone URLs and the short owner/repo form.
package gitutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidURL is wrapped by every ParseGitURL failure.
var ErrInvalidURL = errors.New("invalid Git URL format")

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// String returns "owner/name".
func (r Repo) String() string { return r.Owner + "/" + r.Name }

// URL returns the repository's web address.
func (r Repo) URL() string { return "https://github.com/" + r.String() }

var (
	sshRe   = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
	httpsRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	shortRe = regexp.MustCompile(`^([a-zA-Z0-9._-]+)/([a-zA-Z0-9._-]+)$`)
	nameRe  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// FormatsHelp lists the accepted reference forms.
const FormatsHelp = `Supported formats:
- SSH: git@github.com:user/repo
- HTTPS: https://github.com/user/repo
- Short: user/repo`

// ParseGitURL extracts the owner and repository from s. Only
// github.com URLs are accepted.
func ParseGitURL(s string) (Repo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Repo{}, fmt.Errorf("%w: a Git URL is required", ErrInvalidURL)
	}
	for _, re := range []*regexp.Regexp{sshRe, httpsRe, shortRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			return Repo{Owner: m[1], Name: m[2]}, nil
		}
	}
	return Repo{}, fmt.Errorf("%w. %s", ErrInvalidURL, FormatsHelp)
}

// IsValid reports whether r satisfies GitHub's naming rules: owner up
// to 39 and name up to 100 characters, drawn from letters, digits, '.',
// '-' and '_', and neither starting nor ending with punctuation.
func (r Repo) IsValid() bool {
	return validName(r.Owner, 39) && validName(r.Name, 100)
}

// ValidRepoName reports whether name may be used for a new repository.
func ValidRepoName(name string) bool {
	return nameRe.MatchString(name)
}

func validName(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen || !nameRe.MatchString(s) {
		return false
	}
	edge := func(c byte) bool { return c == '.' || c == '_' || c == '-' }
	return !edge(s[0]) && !edge(s[len(s)-1])
}
