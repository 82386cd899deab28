package dirent

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Well-known containers.
const (
	DeletedObjectsRDN   = "cn=deleted objects"
	SchemaNamingContext = "cn=schemacontext"
)

// NormalizeDN returns the comparison form of a DN: NFC normalized, lower-cased,
// with whitespace around RDN separators and '=' removed. Escaped separators
// are preserved.
func NormalizeDN(dn string) string {
	rdns := SplitDN(norm.NFC.String(dn))
	for i, rdn := range rdns {
		typ, val, ok := strings.Cut(rdn, "=")
		if !ok {
			rdns[i] = strings.ToLower(strings.TrimSpace(rdn))
			continue
		}
		rdns[i] = strings.ToLower(strings.TrimSpace(typ)) + "=" + strings.ToLower(strings.TrimSpace(val))
	}
	return strings.Join(rdns, ",")
}

// SplitDN splits a DN into its RDNs, honoring backslash escapes.
func SplitDN(dn string) []string {
	if strings.TrimSpace(dn) == "" {
		return nil
	}
	var rdns []string
	var cur strings.Builder
	escaped := false
	for _, r := range dn {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == ',':
			rdns = append(rdns, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	rdns = append(rdns, cur.String())
	return rdns
}

// ParentDN returns the DN with its first RDN removed, or "" for a single RDN.
func ParentDN(dn string) string {
	rdns := SplitDN(dn)
	if len(rdns) <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(rdns[1:], ","))
}

// IsDomainRoot reports whether every RDN of dn is a dc= component. Domain
// roots are accepted as implicit parents on add.
func IsDomainRoot(dn string) bool {
	rdns := SplitDN(NormalizeDN(dn))
	if len(rdns) == 0 {
		return false
	}
	for _, rdn := range rdns {
		if !strings.HasPrefix(rdn, "dc=") {
			return false
		}
	}
	return true
}

// IsTombstoneDN reports whether dn names an object inside a Deleted Objects
// container.
func IsTombstoneDN(dn string) bool {
	parent := SplitDN(NormalizeDN(ParentDN(dn)))
	return len(parent) > 0 && parent[0] == DeletedObjectsRDN
}

// IsSchemaDN reports whether dn lies in the schema naming context subtree.
func IsSchemaDN(dn string) bool {
	for _, rdn := range SplitDN(NormalizeDN(dn)) {
		if rdn == SchemaNamingContext {
			return true
		}
	}
	return false
}
