package bible

import "strings"

// bookNames maps canonical book ids (1-66) to display names.
var bookNames = map[int]string{
	1: "Genesis", 2: "Exodus", 3: "Leviticus", 4: "Numbers", 5: "Deuteronomy",
	6: "Joshua", 7: "Judges", 8: "Ruth", 9: "1 Samuel", 10: "2 Samuel",
	11: "1 Kings", 12: "2 Kings", 13: "1 Chronicles", 14: "2 Chronicles",
	15: "Ezra", 16: "Nehemiah", 17: "Esther", 18: "Job", 19: "Psalms",
	20: "Proverbs", 21: "Ecclesiastes", 22: "Song of Solomon", 23: "Isaiah",
	24: "Jeremiah", 25: "Lamentations", 26: "Ezekiel", 27: "Daniel",
	28: "Hosea", 29: "Joel", 30: "Amos", 31: "Obadiah", 32: "Jonah",
	33: "Micah", 34: "Nahum", 35: "Habakkuk", 36: "Zephaniah", 37: "Haggai",
	38: "Zechariah", 39: "Malachi", 40: "Matthew", 41: "Mark", 42: "Luke",
	43: "John", 44: "Acts", 45: "Romans", 46: "1 Corinthians",
	47: "2 Corinthians", 48: "Galatians", 49: "Ephesians", 50: "Philippians",
	51: "Colossians", 52: "1 Thessalonians", 53: "2 Thessalonians",
	54: "1 Timothy", 55: "2 Timothy", 56: "Titus", 57: "Philemon",
	58: "Hebrews", 59: "James", 60: "1 Peter", 61: "2 Peter", 62: "1 John",
	63: "2 John", 64: "3 John", 65: "Jude", 66: "Revelation",
}

// bookAliases maps lowercased names and common abbreviations to book ids.
// Multi-word keys are stored space-separated; lookup normalizes the same way.
var bookAliases = map[string]int{}

func init() {
	for id, name := range bookNames {
		bookAliases[strings.ToLower(name)] = id
	}
	// Common abbreviations and variants (OSIS and informal).
	extras := map[string]int{
		"gen": 1, "ex": 2, "exod": 2, "lev": 3, "num": 4, "deut": 5, "dt": 5,
		"josh": 6, "judg": 7, "1 sam": 9, "1sam": 9, "2 sam": 10, "2sam": 10,
		"1 kgs": 11, "1 kings": 11, "2 kgs": 12, "2 kings": 12,
		"1 chr": 13, "2 chr": 14, "neh": 16, "esth": 17,
		"ps": 19, "psalm": 19, "pss": 19, "prov": 20, "eccl": 21,
		"song": 22, "song of songs": 22, "isa": 23, "jer": 24, "lam": 25,
		"ezek": 26, "dan": 27, "hos": 28, "obad": 31, "jon": 32, "mic": 33,
		"nah": 34, "hab": 35, "zeph": 36, "hag": 37, "zech": 38, "mal": 39,
		"matt": 40, "mt": 40, "mk": 41, "lk": 42, "jn": 43, "jhn": 43,
		"rom": 45, "1 cor": 46, "1cor": 46, "2 cor": 47, "2cor": 47,
		"gal": 48, "eph": 49, "phil": 50, "col": 51,
		"1 thess": 52, "1 thes": 52, "2 thess": 53, "2 thes": 53,
		"1 tim": 54, "2 tim": 55, "tit": 56, "phlm": 57, "heb": 58,
		"jas": 59, "1 pet": 60, "1pet": 60, "2 pet": 61, "2pet": 61,
		"1 jn": 62, "1 john": 62, "2 jn": 63, "3 jn": 64, "rev": 66,
	}
	for k, v := range extras {
		bookAliases[k] = v
	}
}

// BookName returns the display name for a book id, or "" if unknown.
func BookName(id int) string {
	return bookNames[id]
}

// lookupBook resolves a book name or abbreviation to its id.
func lookupBook(name string) (int, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSuffix(key, ".")
	id, ok := bookAliases[key]
	return id, ok
}
