package services

import "fmt"

type catalog struct {
	rateLimited string
	lockedOut   string
	second      string
	seconds     string
	minute      string
	minutes     string
}

var catalogs = map[string]catalog{
	"en": {
		rateLimited: "Too many requests. Please wait %s before trying again.",
		lockedOut:   "Access is temporarily locked because of repeated violations. Try again in %s.",
		second:      "second",
		seconds:     "seconds",
		minute:      "minute",
		minutes:     "minutes",
	},
	"es": {
		rateLimited: "Demasiadas solicitudes. Espere %s antes de volver a intentarlo.",
		lockedOut:   "El acceso está bloqueado temporalmente por infracciones repetidas. Inténtelo de nuevo en %s.",
		second:      "segundo",
		seconds:     "segundos",
		minute:      "minuto",
		minutes:     "minutos",
	},
}

// Messages renders user-facing denial messages in one locale. Unknown
// locales fall back to English.
type Messages struct {
	c catalog
}

func NewMessages(locale string) Messages {
	c, ok := catalogs[locale]
	if !ok {
		c = catalogs["en"]
	}
	return Messages{c: c}
}

func (m Messages) RateLimited(retryAfterSeconds uint) string {
	return fmt.Sprintf(m.c.rateLimited, m.duration(retryAfterSeconds))
}

func (m Messages) LockedOut(remainingSeconds uint) string {
	return fmt.Sprintf(m.c.lockedOut, m.duration(remainingSeconds))
}

// duration renders whole minutes (rounded up) from a minute on, seconds below.
func (m Messages) duration(seconds uint) string {
	if seconds >= 60 {
		mins := (seconds + 59) / 60
		if mins == 1 {
			return "1 " + m.c.minute
		}
		return fmt.Sprintf("%d %s", mins, m.c.minutes)
	}
	if seconds == 1 {
		return "1 " + m.c.second
	}
	return fmt.Sprintf("%d %s", seconds, m.c.seconds)
}
