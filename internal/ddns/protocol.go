// Package ddns implements the DynDNS2 and No-IP update protocols on top of
// the token resolver and the backend adapters.
package ddns

// Result is the protocol-neutral outcome of one hostname update.
type Result int

const (
	ResultGood Result = iota
	ResultNoChange
	ResultBadAuth
	ResultNotYours
	ResultBadHostname
	ResultBackendError
	ResultUnexpected
)

// Protocol holds the reply words of one DDNS dialect.
type Protocol struct {
	Name        string
	BadAuth     string
	NotYours    string
	BadHostname string
}

var (
	// DynDNS2 is the dyndns.org update protocol.
	DynDNS2 = Protocol{Name: "dyndns2", BadAuth: "badauth", NotYours: "!yours", BadHostname: "notfqdn"}
	// NoIP is the No-IP update protocol.
	NoIP = Protocol{Name: "noip", BadAuth: "nohost", NotYours: "abuse", BadHostname: "nohost"}
)

// Reply formats r. ip is only used for good and nochg.
func (p Protocol) Reply(r Result, ip string) string {
	switch r {
	case ResultGood:
		return "good " + ip
	case ResultNoChange:
		return "nochg " + ip
	case ResultBadAuth:
		return p.BadAuth
	case ResultNotYours:
		return p.NotYours
	case ResultBadHostname:
		return p.BadHostname
	case ResultBackendError:
		return "dnserr"
	default:
		return "911"
	}
}

// Label is the metrics label of a result.
func (r Result) Label() string {
	switch r {
	case ResultGood:
		return "good"
	case ResultNoChange:
		return "nochg"
	case ResultBadAuth:
		return "badauth"
	case ResultNotYours:
		return "denied"
	case ResultBadHostname:
		return "badhost"
	case ResultBackendError:
		return "dnserr"
	default:
		return "error"
	}
}
