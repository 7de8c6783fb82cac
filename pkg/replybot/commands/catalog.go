package commands

import "fmt"

// Locale selects the language of a reply. Every command alias is bound to
// one locale, so "status" answers in English and "סטטוס" in Hebrew.
type Locale string

const (
	LocaleEnglish Locale = "en"
	LocaleHebrew  Locale = "he"
)

// Messages holds the user-visible texts of one locale.
type Messages struct {
	LearnUsage    string
	LearnedFmt    string // trigger, reply
	ListEmpty     string
	Denied        string
	// CommandDenied overrides Denied for specific commands, by name.
	CommandDenied map[string]string
	Cleared       string
	Exporting     string
	Failure       string
	Online        string
	Help          string
	Greetings     []string
	StatusTitle   string
	StatusLabels  StatusLabels
}

// StatusLabels are the field names of the status report.
type StatusLabels struct {
	Connection string
	Uptime     string
	Learned    string
	Memory     string
	Retries    string
	States     map[string]string
}

var catalog = map[Locale]*Messages{
	LocaleEnglish: {
		LearnUsage: `learn "incoming message" reply "outgoing message"`,
		LearnedFmt: "Learned: %s",
		ListEmpty:  "No saved responses",
		Denied:     "You do not have permission for this command",
		CommandDenied: map[string]string{
			"learn": "Only admin can teach the bot",
			"list":  "Only admin can view the responses list",
		},
		Cleared:    "All responses have been cleared successfully",
		Exporting:  "Exporting all responses...",
		Failure:    "Something went wrong, please try again",
		Online:     "Bot is connected and ready",
		Help: "*Commands*\n" +
			"learn \"incoming\" reply \"outgoing\" - teach a reply\n" +
			"list - show learned replies\n" +
			"greet - say hello\n" +
			"status - bot status (admin)\n" +
			"clear - delete all replies (admin)\n" +
			"export - dump replies as JSON (admin)\n" +
			"help - show this message",
		Greetings: []string{
			"Hello!",
			"Hi there!",
			"Hey, good to see you!",
			"Greetings!",
			"Hello, how can I help?",
		},
		StatusTitle: "*Bot Status*",
		StatusLabels: StatusLabels{
			Connection: "Connection Status",
			Uptime:     "Uptime",
			Learned:    "Learned Responses",
			Memory:     "Memory Usage",
			Retries:    "Reconnect Attempts",
			States: map[string]string{
				"ready":        "Connected",
				"connecting":   "Connecting",
				"disconnected": "Disconnected",
			},
		},
	},
	LocaleHebrew: {
		LearnUsage: `למד "הודעה נכנסת" תגיב "הודעה יוצאת"`,
		LearnedFmt: "למדתי: %s",
		ListEmpty:  "אין תגובות שמורות",
		Denied:     "אין לך הרשאות לפקודה זו",
		CommandDenied: map[string]string{
			"learn": "רק אדמין יכול ללמד את הבוט",
			"list":  "רק אדמין יכול לראות את רשימת התגובות",
		},
		Cleared:    "כל התגובות נמחקו בהצלחה",
		Exporting:  "מייצא את כל התגובות...",
		Failure:    "אירעה שגיאה, נסה שוב",
		Online:     "הבוט מחובר ומוכן",
		Help: "*פקודות*\n" +
			"למד \"הודעה נכנסת\" תגיב \"הודעה יוצאת\" - ללמד תגובה\n" +
			"רשימה - הצגת התגובות השמורות\n" +
			"ברכה - ברכה אקראית\n" +
			"סטטוס - מצב הבוט (אדמין)\n" +
			"נקה - מחיקת כל התגובות (אדמין)\n" +
			"יצא - ייצוא התגובות (אדמין)\n" +
			"עזרה - הצגת הודעה זו",
		Greetings: []string{
			"שלום!",
			"היי, מה נשמע?",
			"בוקר טוב!",
			"אהלן!",
			"שלום, איך אפשר לעזור?",
		},
		StatusTitle: "*מצב הבוט*",
		StatusLabels: StatusLabels{
			Connection: "מצב חיבור",
			Uptime:     "זמן ריצה",
			Learned:    "תגובות שנלמדו",
			Memory:     "שימוש בזיכרון",
			Retries:    "נסיונות התחברות",
			States: map[string]string{
				"ready":        "מחובר",
				"connecting":   "מתחבר",
				"disconnected": "מנותק",
			},
		},
	},
}

// MessagesFor returns the texts of a locale, falling back to English.
func MessagesFor(l Locale) *Messages {
	if m, ok := catalog[l]; ok {
		return m
	}
	return catalog[LocaleEnglish]
}

// DeniedFor returns the refusal text for the named command.
func (m *Messages) DeniedFor(command string) string {
	if text, ok := m.CommandDenied[command]; ok {
		return text
	}
	return m.Denied
}

// ParseLocale validates a config locale value.
func ParseLocale(s string) (Locale, error) {
	switch Locale(s) {
	case LocaleEnglish, LocaleHebrew:
		return Locale(s), nil
	case "":
		return LocaleHebrew, nil
	default:
		return "", fmt.Errorf("unknown locale %q (want he or en)", s)
	}
}
