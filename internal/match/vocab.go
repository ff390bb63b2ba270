package match

import "strings"

// Closed vocabularies for attribute extraction. Titles are matched against
// alias lists, longest alias first, so "9mm makarov" never resolves to
// plain "9mm Luger".

var caliberAliases = []struct {
	Canonical string
	Aliases   []string
}{
	{"9mm Makarov", []string{"9mm makarov", "9x18 makarov", "9x18mm", "9x18"}},
	{"9mm Luger", []string{"9mm luger", "9x19mm", "9x19", "9 mm", "9mm"}},
	{"10mm Auto", []string{"10mm auto", "10mm"}},
	{".380 ACP", []string{".380 acp", "380 acp", ".380 auto", "380 auto", ".380", "380acp"}},
	{".40 S&W", []string{".40 s&w", "40 s&w", ".40 sw", "40sw", ".40 cal", ".40"}},
	{".45 ACP", []string{".45 acp", "45 acp", ".45 auto", "45 auto", "45acp"}},
	{".45 Colt", []string{".45 colt", "45 colt", ".45 long colt", "45 long colt"}},
	{".357 Magnum", []string{".357 magnum", "357 magnum", ".357 mag", "357 mag", ".357"}},
	{".357 SIG", []string{".357 sig", "357 sig", "357sig"}},
	{".38 Special", []string{".38 special", "38 special", ".38 spl", "38 spl", ".38spl", ".38 spc"}},
	{".44 Magnum", []string{".44 magnum", "44 magnum", ".44 mag", "44 mag", ".44 rem mag"}},
	{".22 LR", []string{".22 lr", "22 lr", ".22lr", "22lr", ".22 long rifle", "22 long rifle"}},
	{".22 WMR", []string{".22 wmr", "22 wmr", ".22 mag", "22 wmr", ".22 magnum"}},
	{".17 HMR", []string{".17 hmr", "17 hmr", ".17hmr", "17hmr"}},
	{"5.56 NATO", []string{"5.56 nato", "5.56x45mm", "5.56x45", "5.56mm", "5.56"}},
	{".223 Remington", []string{".223 remington", "223 remington", ".223 rem", "223 rem", ".223", "223"}},
	{".300 Blackout", []string{".300 blackout", "300 blackout", "300 blk", ".300 blk", "300blk", "300 aac"}},
	{".300 Win Mag", []string{".300 win mag", "300 win mag", ".300 winchester magnum", "300 winchester magnum"}},
	{"7.62x39", []string{"7.62x39mm", "7.62x39", "762x39"}},
	{"7.62x51 NATO", []string{"7.62x51mm", "7.62x51", "7.62 nato"}},
	{".308 Winchester", []string{".308 winchester", "308 winchester", ".308 win", "308 win", ".308", "308"}},
	{"7.62x54R", []string{"7.62x54r", "7.62x54"}},
	{"6.5 Creedmoor", []string{"6.5 creedmoor", "6.5creedmoor", "6.5 cm", "65 creedmoor"}},
	{"6.5 Grendel", []string{"6.5 grendel"}},
	{"6mm ARC", []string{"6mm arc"}},
	{".30-06 Springfield", []string{".30-06 springfield", "30-06 springfield", ".30-06", "30-06", "3006"}},
	{".30-30 Winchester", []string{".30-30 winchester", "30-30 winchester", ".30-30", "30-30"}},
	{".270 Winchester", []string{".270 winchester", "270 winchester", ".270 win", "270 win", ".270"}},
	{".243 Winchester", []string{".243 winchester", "243 winchester", ".243 win", "243 win", ".243"}},
	{"5.7x28", []string{"5.7x28mm", "5.7x28", "5.7"}},
	{".350 Legend", []string{".350 legend", "350 legend"}},
	{".450 Bushmaster", []string{".450 bushmaster", "450 bushmaster"}},
	{"12 Gauge", []string{"12 gauge", "12 ga.", "12 ga", "12ga", "12-gauge"}},
	{"20 Gauge", []string{"20 gauge", "20 ga.", "20 ga", "20ga", "20-gauge"}},
	{"28 Gauge", []string{"28 gauge", "28 ga", "28ga"}},
	{".410 Bore", []string{".410 bore", ".410 gauge", "410 bore", ".410", "410 gauge"}},
}

var brandAliases = []struct {
	Canonical string
	Aliases   []string
}{
	{"Federal", []string{"federal premium", "federal american eagle", "american eagle", "federal"}},
	{"Winchester", []string{"winchester"}},
	{"Remington", []string{"remington", "rem umc"}},
	{"Hornady", []string{"hornady"}},
	{"CCI", []string{"cci blazer", "blazer brass", "blazer", "cci"}},
	{"Speer", []string{"speer gold dot", "gold dot", "speer"}},
	{"PMC", []string{"pmc bronze", "pmc"}},
	{"Sellier & Bellot", []string{"sellier & bellot", "sellier and bellot", "s&b"}},
	{"Fiocchi", []string{"fiocchi"}},
	{"Magtech", []string{"magtech"}},
	{"Wolf", []string{"wolf performance", "wolf"}},
	{"Tula", []string{"tulammo", "tula"}},
	{"Barnaul", []string{"barnaul"}},
	{"Norma", []string{"norma"}},
	{"Aguila", []string{"aguila"}},
	{"Armscor", []string{"armscor"}},
	{"Sig Sauer", []string{"sig sauer", "sig"}},
	{"Browning", []string{"browning"}},
	{"Underwood", []string{"underwood"}},
	{"Buffalo Bore", []string{"buffalo bore"}},
	{"Nosler", []string{"nosler"}},
	{"Barnes", []string{"barnes"}},
	{"Berger", []string{"berger"}},
	{"Lapua", []string{"lapua"}},
	{"Prvi Partizan", []string{"prvi partizan", "ppu"}},
	{"Estate", []string{"estate cartridge", "estate"}},
	{"Herter's", []string{"herter's", "herters"}},
	{"Frontier", []string{"frontier cartridge", "frontier"}},
}

// ExtractCaliber resolves a caliber from explicit field text or, failing
// that, the product title. Returns "" when nothing in the closed
// vocabulary matches.
func ExtractCaliber(fieldValue, title string) string {
	for _, source := range []string{fieldValue, title} {
		if source == "" {
			continue
		}
		lower := strings.ToLower(source)
		for _, entry := range caliberAliases {
			for _, alias := range entry.Aliases {
				if containsToken(lower, alias) {
					return entry.Canonical
				}
			}
		}
	}
	return ""
}

// ExtractBrand resolves a brand the same way.
func ExtractBrand(fieldValue, title string) string {
	for _, source := range []string{fieldValue, title} {
		if source == "" {
			continue
		}
		lower := strings.ToLower(source)
		for _, entry := range brandAliases {
			for _, alias := range entry.Aliases {
				if containsToken(lower, alias) {
					return entry.Canonical
				}
			}
		}
	}
	return ""
}

// containsToken reports whether alias occurs in s on token boundaries, so
// "cci" does not fire inside "vaccine" and "9mm" does not fire inside
// "39mm".
func containsToken(s, alias string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], alias)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(alias)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		idx = start + 1
		if idx >= len(s) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	c := s[i-1]
	return !isAlnum(c) && c != '.'
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return !isAlnum(s[i])
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
