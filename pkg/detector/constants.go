// Package detector classifies announcements against a decision trie and
// raises hijack events.
package detector

// Tier1ASNs contains the ASNs of known Tier-1 transit providers.
// A hijack that involves one of them on either side is rated critical.
var Tier1ASNs = map[uint32]string{
	174:   "Cogent Communications",
	209:   "Lumen (CenturyLink)",
	286:   "KPN",
	701:   "Verizon",
	1239:  "Sprint",
	1299:  "Telia",
	1828:  "Unitas Global",
	2914:  "NTT America",
	3257:  "GTT",
	3320:  "Deutsche Telekom",
	3356:  "Lumen (Level3)",
	3491:  "PCCW Global",
	5511:  "Orange",
	6453:  "Tata Communications",
	6461:  "Zayo",
	6762:  "Telecom Italia Sparkle",
	6830:  "Liberty Global",
	6939:  "Hurricane Electric",
	7018:  "AT&T",
	12956: "Telefonica",
}

// IsTier1 reports whether asn belongs to a Tier-1 transit provider.
func IsTier1(asn uint32) bool {
	_, ok := Tier1ASNs[asn]
	return ok
}
