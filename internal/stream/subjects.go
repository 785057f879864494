package stream

import "strings"

const (
	RawStreamName  = "FLOW_EVENTS_RAW"
	NormStreamName = "FLOW_EVENTS_NORM"

	rawPrefix  = "flow.events.raw"
	normPrefix = "flow.events.norm"
)

// RawSubject returns flow.events.raw.<network>.<contract>.<event>.
func RawSubject(network, contract, event string) string {
	return join(rawPrefix, network, contract, event)
}

// NormSubject returns flow.events.norm.<network>.<domain>.<event>.
func NormSubject(network, domain, event string) string {
	return join(normPrefix, network, domain, event)
}

// RawFilter matches every raw subject of one network.
func RawFilter(network string) string {
	return join(rawPrefix, network) + ".>"
}

// NormFilter matches every normalized subject of one network.
func NormFilter(network string) string {
	return join(normPrefix, network) + ".>"
}

// RawSubjects is the subject space bound to the raw stream.
func RawSubjects() []string { return []string{rawPrefix + ".>"} }

// NormSubjects is the subject space bound to the normalized stream.
func NormSubjects() []string { return []string{normPrefix + ".>"} }

func join(prefix string, tokens ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, t := range tokens {
		b.WriteByte('.')
		b.WriteString(token(t))
	}
	return b.String()
}

// token keeps a value inside a single subject token. Separators and
// wildcards become underscores, an empty value becomes "_".
func token(v string) string {
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, v)
}
