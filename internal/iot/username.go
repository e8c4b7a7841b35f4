package iot

import "strings"

// Username query parameter prefixes reserved by the broker's custom
// authorizer.
const (
	AuthorizerNameParameter      = "x-amz-customauthorizer-name="
	AuthorizerSignatureParameter = "x-amz-customauthorizer-signature="
)

// AddToUsernameParameter appends a query parameter to username. The
// separator is '?' for the first parameter and '&' afterwards. If value
// already contains prefix it is appended verbatim, otherwise as
// prefix+value.
func AddToUsernameParameter(username, value, prefix string) string {
	joined := appendSeparator(username)
	if strings.Contains(value, prefix) {
		return joined + value
	}
	return joined + prefix + value
}

func appendSeparator(username string) string {
	if strings.Contains(username, "?") {
		return username + "&"
	}
	return username + "?"
}

// appendMetrics adds the SDK name and version parameters to username.
func appendMetrics(username, sdkName, sdkVersion string) string {
	return appendSeparator(username) + "SDK=" + sdkName + "&Version=" + sdkVersion
}

// usesCustomAuthorizer reports whether username carries a reserved
// custom authorizer parameter.
func usesCustomAuthorizer(username string) bool {
	return strings.Contains(username, AuthorizerNameParameter) ||
		strings.Contains(username, AuthorizerSignatureParameter)
}
