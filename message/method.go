package message

// InvalidatesCache reports whether a successful response to method
// should evict any cached entry for the same URL.
// Reference: https://datatracker.ietf.org/doc/html/rfc7234#section-4.4
func InvalidatesCache(method string) bool {
	switch method {
	case "POST", "PATCH", "PUT", "DELETE", "MOVE":
		return true
	}
	return false
}

func RequiresRequestBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "PROPPATCH", "REPORT":
		return true
	}
	return false
}

func PermitsRequestBody(method string) bool {
	if RequiresRequestBody(method) {
		return true
	}
	switch method {
	case "OPTIONS", "DELETE", "PROPFIND", "MKCOL", "LOCK":
		return true
	}
	return false
}
