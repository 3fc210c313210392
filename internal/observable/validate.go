package observable

import (
	"strconv"
	"strings"

	"alertflow/internal/model"
)

// ValidIP accepts well-formed dotted quads with octets 0-255 and rejects
// non-routable special-use addresses: loopback, unspecified, broadcast and
// link-local. RFC 1918 ranges are accepted; internal addresses are real
// indicators inside a private network.
func ValidIP(value string) bool {
	octets := strings.Split(value, ".")
	if len(octets) != 4 {
		return false
	}
	nums := make([]int, 4)
	for i, o := range octets {
		if len(o) == 0 || len(o) > 3 {
			return false
		}
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		nums[i] = n
	}

	switch {
	case nums[0] == 127: // loopback
		return false
	case nums[0] == 0 && nums[1] == 0 && nums[2] == 0 && nums[3] == 0: // unspecified
		return false
	case nums[0] == 255 && nums[1] == 255 && nums[2] == 255 && nums[3] == 255: // broadcast
		return false
	case nums[0] == 169 && nums[1] == 254: // link-local
		return false
	}
	return true
}

// ValidDomain checks label rules and rejects localhost and the .local
// mDNS suffix.
func ValidDomain(value string) bool {
	lower := strings.ToLower(value)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") {
		return false
	}

	labels := strings.Split(lower, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return false
			}
		}
	}

	// TLD must be alphabetic.
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// ValidEmail checks the basic local@domain shape with a valid domain part.
func ValidEmail(value string) bool {
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return false
	}
	local, domain := value[:at], value[at+1:]
	if len(local) > 64 {
		return false
	}
	return ValidDomain(domain)
}

// ValidHash checks the exact hex length for the hash variant.
func ValidHash(value string, t model.ObservableType) bool {
	if !isHex(value) {
		return false
	}
	switch t {
	case model.ObservableMD5:
		return len(value) == 32
	case model.ObservableSHA1:
		return len(value) == 40
	case model.ObservableSHA256:
		return len(value) == 64
	}
	return false
}

// ValidCVE checks the CVE-YYYY-NNNN numeric shape.
func ValidCVE(value string) bool {
	upper := strings.ToUpper(value)
	if !strings.HasPrefix(upper, "CVE-") {
		return false
	}
	parts := strings.Split(upper, "-")
	if len(parts) != 3 {
		return false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 1999 || year > 2099 {
		return false
	}
	if len(parts[2]) < 4 || len(parts[2]) > 7 {
		return false
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		return false
	}
	return true
}

// Valid dispatches to the type-specific check.
func Valid(d model.Detection) bool {
	switch d.Type {
	case model.ObservableIP:
		return ValidIP(d.Value)
	case model.ObservableDomain:
		return ValidDomain(d.Value)
	case model.ObservableEmail:
		return ValidEmail(d.Value)
	case model.ObservableMD5, model.ObservableSHA1, model.ObservableSHA256:
		return ValidHash(d.Value, d.Type)
	case model.ObservableCVE:
		return ValidCVE(d.Value)
	case model.ObservableURL, model.ObservableFilePath:
		return d.Value != ""
	}
	return false
}
