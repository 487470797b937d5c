package notify

import (
	"text/template"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

type message struct {
	subject *template.Template
	body    *template.Template
}

func mustMessage(name, subject, body string) message {
	return message{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var messages = map[models.Event]message{
	models.EventSignup: mustMessage("signup",
		"Confirm your OutOfSight account",
		`Hello {{.Nickname}},

please confirm your email address by opening the link below:

{{.ConfirmURL}}

The link expires at {{.ExpiresAt.UTC.Format "2006-01-02 15:04 MST"}}.
`),
	models.EventFileProcessed: mustMessage("file_processed",
		"{{.Filename}} is ready",
		`Hello {{.Nickname}},

your file {{.Filename}} has been processed and is ready.
`),
	models.EventFileFailed: mustMessage("file_failed",
		"{{.Filename}} could not be processed",
		`Hello {{.Nickname}},

we could not process your file {{.Filename}}. Please upload it again.
`),
}
