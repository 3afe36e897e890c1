// Package view turns the reconciled message list into day sections with a
// "new messages" divider, and renders them for a terminal or as HTML.
package view

import (
	"chatline/internal/chat"
	"chatline/internal/content"
	"chatline/internal/models"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"
)

const dividerLabel = "New Messages"

type Row struct {
	Message models.ChatMessage
	Sender  string
	Mine    bool
	// Divider marks the first unread message; at most one row carries it.
	Divider bool
}

type Section struct {
	Day   time.Time
	Label string
	Rows  []Row
}

type Status struct {
	State        models.ConnectionState
	Attempt      int
	HistoryError string
	Unread       int
}

type Model struct {
	Topic    string
	Sections []Section
	Status   Status
}

type Input struct {
	Messages []models.ChatMessage
	// Divider is the index of the first unread message, or -1.
	Divider int
	Names   map[string]string
	LocalID string
	Loc     *time.Location
	Now     time.Time
}

// Build groups messages by local calendar day in list order.
func Build(in Input) []Section {
	loc := in.Loc
	if loc == nil {
		loc = time.Local
	}

	// Grouping may move late arrivals into an earlier day, so the divider is
	// resolved against list order and matched by key.
	var divider *chat.Key
	if in.Divider >= 0 && in.Divider < len(in.Messages) {
		k := chat.KeyOf(in.Messages[in.Divider])
		divider = &k
	}

	groups := chat.GroupByDay(in.Messages, loc)
	sections := make([]Section, 0, len(groups))
	for _, g := range groups {
		s := Section{Day: g.Day, Label: DateLabel(g.Day, in.Now.In(loc))}
		for _, m := range g.Messages {
			sender := in.Names[m.Publisher]
			if sender == "" {
				sender = m.Publisher
			}
			s.Rows = append(s.Rows, Row{
				Message: m,
				Sender:  sender,
				Mine:    m.Publisher == in.LocalID,
				Divider: divider != nil && chat.KeyOf(m) == *divider,
			})
		}
		sections = append(sections, s)
	}
	return sections
}

// DateLabel names day relative to now: "Today", "Yesterday" or weekday and date.
func DateLabel(day, now time.Time) string {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	day = day.In(now.Location())
	dy, dm, dd := day.Date()
	midnight := time.Date(dy, dm, dd, 0, 0, 0, 0, now.Location())

	switch {
	case midnight.Equal(today):
		return "Today"
	case midnight.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("Monday, Jan 2")
	}
}

func messageTime(m models.ChatMessage, loc *time.Location) string {
	return time.Unix(0, m.TimeNanos).In(loc).Format("15:04")
}

// Text writes the model as plain text lines for a terminal.
func Text(w io.Writer, model Model, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	for _, s := range model.Sections {
		fmt.Fprintf(&b, "---- %s ----\n", s.Label)
		for _, r := range s.Rows {
			if r.Divider {
				fmt.Fprintf(&b, "==== %s ====\n", dividerLabel)
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", messageTime(r.Message, loc), content.PlainText(r.Sender), content.PlainText(r.Message.Value))
		}
	}
	fmt.Fprintln(&b, StatusLine(model.Status))

	_, err := io.WriteString(w, b.String())
	return err
}

// StatusLine summarizes connection and unread state in one line.
func StatusLine(s Status) string {
	var parts []string
	switch s.State {
	case models.StateReconnecting:
		parts = append(parts, fmt.Sprintf("reconnecting (attempt %d)", s.Attempt))
	case models.StateFailed:
		parts = append(parts, "connection failed, /retry to reconnect")
	case "":
		parts = append(parts, string(models.StateIdle))
	default:
		parts = append(parts, string(s.State))
	}
	if s.HistoryError != "" {
		parts = append(parts, "history unavailable: "+s.HistoryError)
	}
	if s.Unread > 0 {
		parts = append(parts, fmt.Sprintf("%d unread", s.Unread))
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

var page = template.Must(template.New("conversation").Funcs(template.FuncMap{
	"render": func(value string) template.HTML {
		out, err := content.Render(value)
		if err != nil {
			return template.HTML(content.Escape(value))
		}
		// Render output is sanitized.
		return template.HTML(out)
	},
	"clock": messageTime,
}).Parse(`<section class="conversation" data-topic="{{.Model.Topic}}">
{{- range .Model.Sections}}
<div class="day"><span class="day-label">{{.Label}}</span></div>
{{- range .Rows}}
{{- if .Divider}}
<div class="divider">` + dividerLabel + `</div>
{{- end}}
<article class="message{{if .Mine}} mine{{end}}"><header><span class="sender">{{.Sender}}</span> <time>{{clock .Message $.Loc}}</time></header>{{render .Message.Value}}</article>
{{- end}}
{{- end}}
<footer class="status status-{{.Model.Status.State}}">{{.StatusLine}}</footer>
</section>
`))

// HTML renders the model with markdown message bodies.
func HTML(w io.Writer, model Model, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	return page.Execute(w, struct {
		Model      Model
		Loc        *time.Location
		StatusLine string
	}{model, loc, StatusLine(model.Status)})
}
