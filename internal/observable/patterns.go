// Package observable detects indicators of compromise in alert data,
// validates them, and accumulates them deduplicated by (type, value).
package observable

import (
	"regexp"
	"strings"

	"alertflow/internal/model"
)

// Typed detection patterns applied to free text and structured fields.
// Regex hits are only candidates; every hit must pass its type-specific
// validation before it becomes a detection.
var (
	ipPattern       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern   = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
	urlPattern      = regexp.MustCompile(`https?://[^\s"'<>]+`)
	emailPattern    = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	md5Pattern      = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
	sha1Pattern     = regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)
	sha256Pattern   = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	cvePattern      = regexp.MustCompile(`\bCVE-\d{4}-\d{4,7}\b`)
	filePathPattern = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[\w.+-]+[\\/])+[\w.+-]+`)
)

// scanText runs every typed pattern over a blob of free text and returns the
// validated hits. Hash hits are claimed longest-first so a SHA-256 is not
// also reported as an embedded MD5.
func scanText(text, sourcePath string) []model.Detection {
	if text == "" {
		return nil
	}

	var out []model.Detection
	add := func(t model.ObservableType, value string) {
		out = append(out, model.Detection{Type: t, Value: value, SourcePath: sourcePath})
	}

	claimed := make([]string, 0, 4)
	for _, hit := range sha256Pattern.FindAllString(text, -1) {
		if ValidHash(hit, model.ObservableSHA256) {
			add(model.ObservableSHA256, strings.ToLower(hit))
			claimed = append(claimed, strings.ToLower(hit))
		}
	}
	for _, hit := range sha1Pattern.FindAllString(text, -1) {
		lower := strings.ToLower(hit)
		if insideAny(lower, claimed) {
			continue
		}
		if ValidHash(hit, model.ObservableSHA1) {
			add(model.ObservableSHA1, lower)
			claimed = append(claimed, lower)
		}
	}
	for _, hit := range md5Pattern.FindAllString(text, -1) {
		lower := strings.ToLower(hit)
		if insideAny(lower, claimed) {
			continue
		}
		if ValidHash(hit, model.ObservableMD5) {
			add(model.ObservableMD5, lower)
		}
	}

	for _, hit := range ipPattern.FindAllString(text, -1) {
		if ValidIP(hit) {
			add(model.ObservableIP, hit)
		}
	}
	for _, hit := range urlPattern.FindAllString(text, -1) {
		add(model.ObservableURL, strings.TrimRight(hit, ".,;)"))
	}
	for _, hit := range emailPattern.FindAllString(text, -1) {
		if ValidEmail(hit) {
			add(model.ObservableEmail, strings.ToLower(hit))
		}
	}
	for _, hit := range domainPattern.FindAllString(text, -1) {
		// Skip dotted quads and anything already matched as email host.
		if ipPattern.MatchString(hit) {
			continue
		}
		if ValidDomain(hit) {
			add(model.ObservableDomain, strings.ToLower(hit))
		}
	}
	for _, hit := range cvePattern.FindAllString(text, -1) {
		if ValidCVE(hit) {
			add(model.ObservableCVE, strings.ToUpper(hit))
		}
	}
	for _, hit := range filePathPattern.FindAllString(text, -1) {
		add(model.ObservableFilePath, hit)
	}

	return out
}

func insideAny(needle string, claimed []string) bool {
	for _, c := range claimed {
		if strings.Contains(c, needle) {
			return true
		}
	}
	return false
}

// hintType maps a field name to the observable type its name implies, if
// any. A hinted field is force-extracted even when the generic pattern would
// be ambiguous.
func hintType(fieldName string) (model.ObservableType, bool) {
	name := strings.ToLower(fieldName)
	switch {
	case strings.Contains(name, "ip") || strings.Contains(name, "address"):
		return model.ObservableIP, true
	case strings.Contains(name, "domain") || strings.Contains(name, "host"):
		return model.ObservableDomain, true
	case strings.Contains(name, "url"):
		return model.ObservableURL, true
	case strings.Contains(name, "email") || strings.Contains(name, "mail"):
		return model.ObservableEmail, true
	case strings.Contains(name, "hash") || strings.Contains(name, "md5") || strings.Contains(name, "sha"):
		return model.ObservableMD5, true // disambiguated by hex length
	case strings.Contains(name, "cve") || strings.Contains(name, "vulnerability"):
		return model.ObservableCVE, true
	}
	return "", false
}

// hashTypeByLength assigns the hash variant by exact hex length.
func hashTypeByLength(value string) (model.ObservableType, bool) {
	if !isHex(value) {
		return "", false
	}
	switch len(value) {
	case 32:
		return model.ObservableMD5, true
	case 40:
		return model.ObservableSHA1, true
	case 64:
		return model.ObservableSHA256, true
	}
	return "", false
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
