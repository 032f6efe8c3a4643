package device

import (
	"net/url"
	"path"
	"strings"
)

// OutcomeKind tags the result of one raw request
type OutcomeKind int

const (
	// OutcomeOK carries a response body
	OutcomeOK OutcomeKind = iota
	// OutcomeRedirect carries a redirect target; the controller answers
	// every page request with a 302 once the session has expired
	OutcomeRedirect
)

// String returns the outcome name
func (k OutcomeKind) String() string {
	if k == OutcomeRedirect {
		return "redirect"
	}
	return "ok"
}

// Outcome is the tagged result of one raw request
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte // set for OutcomeOK
	Location   string // set for OutcomeRedirect
}

// Ok builds an OutcomeOK
func Ok(status int, body []byte) Outcome {
	return Outcome{Kind: OutcomeOK, StatusCode: status, Body: body}
}

// RedirectTo builds an OutcomeRedirect
func RedirectTo(status int, location string) Outcome {
	return Outcome{Kind: OutcomeRedirect, StatusCode: status, Location: location}
}

// phase is where a request cycle stands when an outcome arrives.
//
//	phaseRequest --ok--> done
//	phaseRequest --redirect--> login
//	phaseLogin --redirect to login page--> fail (authentication)
//	phaseLogin --anything else--> retry
//	phaseRetry --ok--> done
//	phaseRetry --redirect--> fail (authentication)
type phase int

const (
	phaseRequest phase = iota
	phaseLogin
	phaseRetry
)

type step int

const (
	stepDone step = iota
	stepLogin
	stepRetry
	stepFailAuth
)

func (s step) String() string {
	switch s {
	case stepDone:
		return "done"
	case stepLogin:
		return "login"
	case stepRetry:
		return "retry"
	case stepFailAuth:
		return "fail-auth"
	default:
		return "invalid"
	}
}

// nextStep decides what a request cycle does after an outcome. It depends on
// nothing but its arguments.
func nextStep(p phase, o Outcome, loginPath string) step {
	switch p {
	case phaseRequest:
		if o.Kind == OutcomeRedirect {
			return stepLogin
		}
		return stepDone
	case phaseLogin:
		if o.Kind == OutcomeRedirect && isLoginLocation(o.Location, loginPath) {
			return stepFailAuth
		}
		return stepRetry
	default:
		if o.Kind == OutcomeRedirect {
			return stepFailAuth
		}
		return stepDone
	}
}

// isLoginLocation reports whether a Location header points at the login
// page. The controller sends absolute and relative forms.
func isLoginLocation(location, loginPath string) bool {
	if location == "" {
		return false
	}
	p := location
	if u, err := url.Parse(location); err == nil {
		p = u.Path
	}
	if strings.EqualFold(p, loginPath) {
		return true
	}
	return strings.EqualFold(path.Base(p), path.Base(loginPath))
}
