package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"private_feed/internal/model"
	"private_feed/internal/service/access"
	"private_feed/internal/utils/log"
)

type (
	viewItem struct {
		post    model.Post
		session *access.Session
		unsub   func()
	}

	// View is the terminal reader: one line per post, the selected post's
	// state beside it and a key prompt for recovering access.
	View struct {
		app    *App
		tui    *tview.Application
		list   *tview.List
		body   *tview.TextView
		input  *tview.InputField
		status *tview.TextView

		items []*viewItem
	}
)

func (c *App) NewView(posts []model.Post) *View {
	v := &View{app: c, tui: tview.NewApplication()}
	for _, p := range posts {
		v.items = append(v.items, &viewItem{post: p})
	}
	return v
}

// Run blocks until the user quits or ctx is done.
func (v *View) Run(ctx context.Context) error {
	v.renderUI()

	for i, it := range v.items {
		it.session = v.app.Open(it.post)
		idx := i
		it.unsub = it.session.Subscribe(func(access.State) {
			v.tui.QueueUpdateDraw(func() { v.refresh(idx) })
		})
	}
	defer func() {
		for _, it := range v.items {
			it.unsub()
			it.session.Close()
		}
	}()

	go func() {
		<-ctx.Done()
		v.tui.Stop()
	}()

	if len(v.items) > 0 {
		v.show(0)
	}
	return v.tui.Run()
}

func (v *View) renderUI() {
	v.list = tview.NewList().ShowSecondaryText(false)
	v.list.SetBorder(true).SetTitle(" Posts ")
	for _, it := range v.items {
		v.list.AddItem(itemLabel(it.post, nil), "", 0, nil)
	}
	v.list.SetChangedFunc(func(i int, _, _ string, _ rune) {
		v.show(i)
	})

	v.body = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	v.body.SetBorder(true)

	v.input = tview.NewInputField().
		SetLabel("Encryption key: ").
		SetFieldWidth(0).
		SetMaskCharacter('*')
	v.input.SetBorder(true).SetTitle(" Recover Access ")
	v.input.SetDoneFunc(func(key tcell.Key) {
		defer v.tui.SetFocus(v.list)
		text := strings.TrimSpace(v.input.GetText())
		v.input.SetText("")
		if key != tcell.KeyEnter || text == "" {
			return
		}
		priv, err := model.ParsePrivateKey(text)
		if err != nil {
			v.setStatus("[red]" + err.Error())
			return
		}
		if it := v.selected(); it != nil {
			it.session.RecoverAccess(priv)
		}
	})

	v.status = tview.NewTextView().SetDynamicColors(true)

	v.list.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Rune() {
		case 'q':
			v.tui.Stop()
		case 'r':
			go v.act(access.ActionRequestAccess)
		case 'c':
			go v.act(access.ActionCancelRequest)
		case 't':
			go v.act(access.ActionRetry)
		case 'k':
			v.tui.SetFocus(v.input)
		default:
			return ev
		}
		return nil
	})

	main := tview.NewFlex().
		AddItem(v.list, 0, 1, true).
		AddItem(v.body, 0, 2, false)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, true).
		AddItem(v.input, 3, 0, false).
		AddItem(v.status, 1, 0, false)

	v.setStatus("[gray]r request  c cancel  k recover  t retry  q quit")
	v.tui.SetRoot(layout, true).SetFocus(v.list)
}

func (v *View) selected() *viewItem {
	i := v.list.GetCurrentItem()
	if i < 0 || i >= len(v.items) {
		return nil
	}
	return v.items[i]
}

// act runs a locked-state action for the selected post off the UI goroutine.
func (v *View) act(action access.Action) {
	it := v.selected()
	if it == nil || it.session == nil {
		return
	}
	ctx := context.TODO()
	owner := it.post.Encrypted.OwnerID

	var (
		status model.AccessStatus
		err    error
	)
	switch action {
	case access.ActionRequestAccess:
		status, err = v.app.RequestAccess(ctx, owner)
	case access.ActionCancelRequest:
		status, err = v.app.CancelRequest(ctx, owner)
	case access.ActionRetry:
		if !it.session.Retry() {
			v.tui.QueueUpdateDraw(func() { v.setStatus("[gray]nothing to retry") })
		}
		return
	}

	v.tui.QueueUpdateDraw(func() {
		if err != nil {
			log.Error("feed action failed", zap.String("action", string(action)), zap.Error(err))
			v.setStatus("[red]" + err.Error())
			return
		}
		v.setStatus(fmt.Sprintf("[green]%s: %s", action, status))
	})
}

func (v *View) setStatus(text string) {
	v.status.SetText(text)
}

// refresh redraws item i. Must run on the UI goroutine.
func (v *View) refresh(i int) {
	it := v.items[i]
	st := it.session.State()
	v.list.SetItemText(i, itemLabel(it.post, st), "")
	if v.list.GetCurrentItem() == i {
		v.show(i)
	}
}

func (v *View) show(i int) {
	if i < 0 || i >= len(v.items) {
		return
	}
	it := v.items[i]
	v.body.SetTitle(fmt.Sprintf(" %s by %s ", shortID(it.post.ID), it.post.Encrypted.OwnerID.Short()))

	var st access.State
	if it.session != nil {
		st = it.session.State()
	}
	v.body.SetText(describe(st))
	v.body.ScrollToBeginning()
}

func itemLabel(post model.Post, st access.State) string {
	mark := "[gray]…[-]"
	switch st.(type) {
	case access.Decrypted:
		mark = "[green]✓[-]"
	case access.Locked:
		mark = "[yellow]*[-]"
	case access.Errored:
		mark = "[red]![-]"
	}
	return fmt.Sprintf("%s %s", mark, shortID(post.ID))
}

func describe(st access.State) string {
	switch st := st.(type) {
	case access.Decrypted:
		by := ""
		if st.Meta.ByOwner {
			by = " (your post)"
		}
		return fmt.Sprintf("[gray]epoch %d%s[-]\n\n%s", st.Meta.Epoch, by, tview.Escape(string(st.Content)))
	case access.Locked:
		var b strings.Builder
		fmt.Fprintf(&b, "[yellow]%s[-]\n", st.Reason.Message())
		for _, a := range st.Actions {
			fmt.Fprintf(&b, "\n  %s", actionHint(a))
		}
		return b.String()
	case access.Errored:
		text := fmt.Sprintf("[red]%s[-]\n%s", st.Kind, tview.Escape(st.Message))
		if st.Retryable {
			text += "\n\n  t  retry"
		}
		return text
	case access.Recovering:
		return "[gray]recovering keys…"
	}
	return "[gray]loading…"
}

func actionHint(a access.Action) string {
	switch a {
	case access.ActionRequestAccess:
		return "r  request access"
	case access.ActionCancelRequest:
		return "c  cancel request"
	case access.ActionRecoverAccess:
		return "k  recover access"
	case access.ActionRetry:
		return "t  retry"
	}
	return string(a)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
