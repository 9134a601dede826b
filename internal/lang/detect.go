package lang

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// scriptLang maps a Unicode script to the language it implies on its own.
// Han is resolved separately because kana in the same text means Japanese.
var scriptLang = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Hangul, "KO"},
	{unicode.Hiragana, "JA"},
	{unicode.Katakana, "JA"},
	{unicode.Han, "ZH"},
	{unicode.Cyrillic, "RU"},
	{unicode.Arabic, "AR"},
	{unicode.Hebrew, "HE"},
	{unicode.Thai, "TH"},
	{unicode.Greek, "EL"},
}

// Letters only found in Ukrainian Cyrillic.
const ukrainianLetters = "іїєґІЇЄҐ"

// keywords are short high-signal words per Latin-script language. Words that
// are common to several languages are listed under each of them and resolved
// by the tie-break.
var keywords = map[string][]string{
	"EN": {"the", "and", "you", "hello", "good", "morning", "thanks", "thank", "please", "what", "this", "that", "with", "is", "are", "how"},
	"ES": {"hola", "gracias", "buenos", "buenas", "días", "que", "por", "favor", "está", "cómo", "el", "los", "las", "señor"},
	"FR": {"bonjour", "merci", "salut", "oui", "est", "les", "une", "avec", "pour", "très", "bonsoir", "ça", "je", "vous"},
	"DE": {"hallo", "danke", "bitte", "und", "ist", "nicht", "guten", "morgen", "ich", "das", "der", "die", "wie", "geht"},
	"IT": {"ciao", "grazie", "buongiorno", "sono", "della", "per", "come", "stai", "prego", "questo"},
	"PT": {"olá", "obrigado", "obrigada", "bom", "dia", "você", "não", "tudo", "bem", "está"},
	"NL": {"hallo", "dank", "goedemorgen", "het", "een", "niet", "ik", "je", "jij", "alsjeblieft"},
	"PL": {"cześć", "dziękuję", "dzień", "dobry", "jest", "nie", "tak", "proszę", "jak"},
	"TR": {"merhaba", "teşekkürler", "günaydın", "evet", "hayır", "nasılsın", "bir", "ve"},
	"SV": {"hej", "tack", "och", "jag", "inte", "god", "morgon", "är"},
	"DA": {"hej", "tak", "og", "jeg", "ikke", "godmorgen", "er"},
	"NB": {"hei", "takk", "og", "jeg", "ikke", "god", "morgen", "er"},
	"FI": {"hei", "kiitos", "huomenta", "ja", "ei", "on", "minä", "sinä"},
	"CS": {"ahoj", "děkuji", "dobrý", "den", "jsem", "není", "ano"},
	"SK": {"ahoj", "ďakujem", "dobrý", "deň", "som", "nie", "áno"},
	"SL": {"živjo", "hvala", "dober", "dan", "sem", "ni"},
	"HU": {"szia", "köszönöm", "jó", "reggelt", "igen", "nem", "van"},
	"RO": {"bună", "mulțumesc", "dimineața", "sunt", "și", "nu", "da"},
	"ET": {"tere", "aitäh", "hommikust", "jah", "ei", "on"},
	"LV": {"sveiki", "paldies", "labrīt", "jā", "nē", "ir"},
	"LT": {"labas", "ačiū", "rytas", "taip", "ne", "yra"},
	"VI": {"xin", "chào", "cảm", "ơn", "không", "của", "là"},
	"ID": {"halo", "terima", "kasih", "selamat", "pagi", "tidak", "yang", "dan"},
}

var keywordIndex = func() map[string][]string {
	idx := make(map[string][]string)
	for code, words := range keywords {
		for _, w := range words {
			idx[w] = append(idx[w], code)
		}
	}
	return idx
}()

// Detect guesses the source language of text.
//
// Every script run and every keyword is a hit for some candidate language and
// scores its length in runes. The candidate with the longest single hit wins.
// Ties resolve to preferred when it is among the tied candidates, otherwise to
// EN. Text with no hits at all yields Auto.
func Detect(text, preferred string) string {
	scores := make(map[string]int)
	hit := func(code string, n int) {
		if n > scores[code] {
			scores[code] = n
		}
	}

	hasKana := strings.ContainsFunc(text, func(r rune) bool {
		return unicode.In(r, unicode.Hiragana, unicode.Katakana)
	})

	cur, run := "", 0
	flush := func() {
		if cur != "" {
			hit(cur, run)
		}
		cur, run = "", 0
	}
	for _, r := range text {
		code := scriptOf(r, hasKana)
		if code == "" {
			flush()
			continue
		}
		if code != cur {
			flush()
			cur = code
		}
		run++
	}
	flush()

	if ru := scores["RU"]; ru > 0 && strings.ContainsAny(text, ukrainianLetters) {
		hit("UK", ru+1)
	}

	for _, w := range words(text) {
		for _, code := range keywordIndex[w] {
			hit(code, utf8.RuneCountInString(w))
		}
	}

	if len(scores) == 0 {
		return Auto
	}

	best := 0
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	var tied []string
	for code, s := range scores {
		if s == best {
			tied = append(tied, code)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	if p := Base(preferred); p != "" {
		for _, c := range tied {
			if c == p {
				return p
			}
		}
	}
	return Default
}

func scriptOf(r rune, hasKana bool) string {
	for _, s := range scriptLang {
		if unicode.Is(s.table, r) {
			if s.code == "ZH" && hasKana {
				return "JA"
			}
			return s.code
		}
	}
	return ""
}

// words splits text on anything that is not a letter and folds case. A Caser
// is stateful, so each call builds its own.
func words(text string) []string {
	return strings.FieldsFunc(cases.Lower(language.Und).String(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r)
	})
}
