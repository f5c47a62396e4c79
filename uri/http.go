package uri

import "strconv"

// DefaultPort returns the well-known port for scheme, or 0 if the
// scheme has none.
func DefaultPort(scheme string) uint16 {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

// Host returns the authority host, or "" when there is no authority.
func (u *URI) Host() string {
	if u.Authority == nil {
		return ""
	}
	return u.Authority.Host
}

// EffectivePort returns the explicit port if present, else the
// scheme's default.
func (u *URI) EffectivePort() uint16 {
	if u.Authority != nil && u.Authority.Port != nil {
		return *u.Authority.Port
	}
	return DefaultPort(u.Scheme)
}

// HostHeader renders the authority for a Host header field. The port
// is included only when it differs from the scheme's default.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func (u *URI) HostHeader() string {
	if u.Authority == nil {
		return ""
	}

	host := escape(u.Authority.Host, encodeHost)
	if port := u.Authority.Port; port != nil && *port != DefaultPort(u.Scheme) {
		return host + ":" + strconv.FormatUint(uint64(*port), 10)
	}
	return host
}

// RequestTarget renders the origin-form target for a request line.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (u *URI) RequestTarget() string {
	path := escape(u.Path, encodePath)
	if path == "" {
		path = "/"
	}
	if u.Query != nil {
		path += "?" + escape(*u.Query, encodeQuery)
	}
	return path
}

// Redacted is String with userinfo masked, for logs.
func (u *URI) Redacted() string {
	if u.Authority == nil || u.Authority.UserInfo == "" {
		return u.String()
	}

	clone := *u
	authority := *u.Authority
	authority.UserInfo = "xxxxx"
	clone.Authority = &authority
	return clone.String()
}
