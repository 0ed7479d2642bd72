package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// itemView is one item as printed.
type itemView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Checked   bool   `json:"checked"`
	UpdatedAt int64  `json:"updated_at"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// listView is a list as printed by ls, run and the remote commands.
type listView struct {
	ListID  string     `json:"list_id"`
	Name    string     `json:"name"`
	Items   []itemView `json:"items"`
	Members string     `json:"members,omitempty"`
	Pending int        `json:"pending,omitempty"`
	Stale   bool       `json:"stale,omitempty"`
}

func newListView(doc ir.Doc) listView {
	v := listView{ListID: doc.ListID, Name: doc.ListName, Items: []itemView{}}
	for _, it := range doc.SortedItems() {
		v.Items = append(v.Items, itemView{
			ID:        it.ID,
			Text:      it.Text,
			Checked:   it.Checked,
			UpdatedAt: it.UpdatedAt,
			UpdatedBy: it.UpdatedBy,
		})
	}
	return v
}

func (v listView) String() string {
	var b strings.Builder
	name := v.Name
	if name == "" {
		name = "(unnamed list)"
	}
	fmt.Fprintf(&b, "%s (%d items)", name, len(v.Items))
	if v.Members != "" {
		fmt.Fprintf(&b, ", %s", v.Members)
	}
	if v.Pending > 0 {
		fmt.Fprintf(&b, ", %d queued", v.Pending)
	}
	if v.Stale {
		b.WriteString(", offline copy")
	}

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, it := range v.Items {
		box := "[ ]"
		if it.Checked {
			box = "[x]"
		}
		fmt.Fprintf(tw, "\n  %s\t%s\t%s", box, it.Text, shortID(it.ID))
	}
	tw.Flush()
	return b.String()
}

// shortID trims an id for display to its random tail. resolveItem accepts
// it back.
func shortID(id string) string {
	if engine.IsLocalID(id) || len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// sessionView describes the joined list.
type sessionView struct {
	ListID     string `json:"list_id"`
	ListName   string `json:"list_name"`
	InviteCode string `json:"invite_code"`
	InviteLink string `json:"invite_link"`
	UserName   string `json:"user_name,omitempty"`
	Role       string `json:"role"`
	ActorID    string `json:"actor_id"`
	Items      int    `json:"items"`
	Pending    int    `json:"pending,omitempty"`
}

func newSessionView(s ir.Session, baseURL string, items int) sessionView {
	return sessionView{
		ListID:     s.ListID,
		ListName:   s.ListName,
		InviteCode: s.InviteCode,
		InviteLink: engine.InviteLink(baseURL, s.InviteCode),
		UserName:   s.UserName,
		Role:       string(s.Role),
		ActorID:    s.ActorID,
		Items:      items,
	}
}

func (v sessionView) String() string {
	var b strings.Builder
	name := v.ListName
	if name == "" {
		name = "(name arrives with the first peer)"
	}
	fmt.Fprintf(&b, "list:    %s\n", name)
	fmt.Fprintf(&b, "invite:  %s\n", v.InviteCode)
	fmt.Fprintf(&b, "link:    %s\n", v.InviteLink)
	who := v.UserName
	if who == "" {
		who = "anonymous"
	}
	fmt.Fprintf(&b, "you:     %s (%s)\n", who, v.Role)
	fmt.Fprintf(&b, "items:   %d", v.Items)
	if v.Pending > 0 {
		fmt.Fprintf(&b, "\nqueued:  %d", v.Pending)
	}
	return b.String()
}

// changeView reports a single mutation.
type changeView struct {
	Action string `json:"action"`
	ItemID string `json:"item_id,omitempty"`
	Text   string `json:"text,omitempty"`
	Queued bool   `json:"queued,omitempty"`
}

func (v changeView) String() string {
	var b strings.Builder
	b.WriteString(v.Action)
	if v.Text != "" {
		fmt.Fprintf(&b, " %q", v.Text)
	}
	if v.ItemID != "" {
		fmt.Fprintf(&b, " (%s)", shortID(v.ItemID))
	}
	if v.Queued {
		b.WriteString(", queued until online")
	}
	return b.String()
}
