package scaffold

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

// TemplateURL is the repository the built-in templates are checked out from.
const TemplateURL = "git@github.com:cubist-alpha/cubist-sdk-templates"

// Template is a built-in project template. It names a top-level directory
// of the template repository holding one subdirectory per project type.
type Template string

const (
	TemplateStorage     Template = "Storage"
	TemplateMPMC        Template = "MPMC"
	TemplateTokenBridge Template = "TokenBridge"
)

// Templates lists the built-in templates.
var Templates = []Template{TemplateStorage, TemplateMPMC, TemplateTokenBridge}

// ParseTemplate matches s against the built-in templates, ignoring case.
func ParseTemplate(s string) (Template, error) {
	for _, t := range Templates {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	names := make([]string, len(Templates))
	for i, t := range Templates {
		names[i] = string(t)
	}
	return "", apperrors.ConfigurationError(nil,
		fmt.Sprintf("unknown template %q (expected one of %s)", s, strings.Join(names, ", ")))
}

// GitURL is a repository location git clone accepts.
type GitURL string

func (u GitURL) String() string { return string(u) }

var gitSchemes = map[string]bool{
	"git":     true,
	"ssh":     true,
	"git+ssh": true,
	"http":    true,
	"https":   true,
	"ftp":     true,
	"ftps":    true,
	"file":    true,
}

// ParseGitURL accepts URLs with a git-supported scheme, scp-like
// user@host:path locations and local paths.
func ParseGitURL(s string) (GitURL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperrors.ParseError(nil, fmt.Sprintf("Invalid git URL %q", s))
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", apperrors.ParseError(err, fmt.Sprintf("Invalid git URL %q", s))
		}
		if !gitSchemes[strings.ToLower(u.Scheme)] {
			return "", apperrors.ParseError(nil, fmt.Sprintf("Unexpected git URL scheme %q", u.Scheme))
		}
		if u.Scheme != "file" && u.Host == "" {
			return "", apperrors.ParseError(nil, fmt.Sprintf("Invalid git URL %q", s))
		}
		return GitURL(s), nil
	}
	// scp-like syntax: a colon before the first slash
	colon, slash := strings.Index(s, ":"), strings.Index(s, "/")
	if colon > 0 && (slash < 0 || colon < slash) {
		host := s[:colon]
		if at := strings.LastIndex(host, "@"); at >= 0 {
			host = host[at+1:]
		}
		if host == "" || colon == len(s)-1 {
			return "", apperrors.ParseError(nil, fmt.Sprintf("Invalid git URL %q", s))
		}
		return GitURL(s), nil
	}
	return GitURL(s), nil
}
