// Package audit is the interactive results browser: pick a task, load its
// persisted records, and page through them with the recommended ones split out.
package audit

import (
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/idlewatch/internal/decision"
	"github.com/amishk599/idlewatch/internal/model"
)

var marketTZ = time.FixedZone("CST", 8*60*60)

// Lines per record in the list view (title + subtitle + blank separator).
const recordItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

type theme struct {
	paneFocused, paneBlurred     lipgloss.Style
	headFocused, headBlurred     lipgloss.Style
	status                       lipgloss.Style
	rowTitle, rowSub             lipgloss.Style
	cursorTitle, cursorSub       lipgloss.Style
	label, heading               lipgloss.Style
	rule, hint, body, warn, star lipgloss.Style
}

func newTheme() theme {
	accent, dim := lipgloss.Color("39"), lipgloss.Color("240")
	pane := lipgloss.NewStyle().Border(lipgloss.RoundedBorder())
	head := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cursor := lipgloss.NewStyle().Background(lipgloss.Color("24"))
	return theme{
		paneFocused: pane.BorderForeground(accent),
		paneBlurred: pane.BorderForeground(dim),
		headFocused: head.Foreground(accent),
		headBlurred: head.Foreground(dim),
		status:      lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236")),
		rowTitle:    lipgloss.NewStyle().Bold(true),
		rowSub:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		cursorTitle: cursor.Bold(true).Foreground(lipgloss.Color("15")),
		cursorSub:   cursor.Foreground(lipgloss.Color("252")),
		label:       lipgloss.NewStyle().Bold(true).Foreground(accent).Width(18),
		heading:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).MarginBottom(1),
		rule:        lipgloss.NewStyle().Foreground(dim),
		hint:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		body:        lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warn:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		star:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

var ui = newTheme()

// rescoredMsg carries a keyword re-evaluation of the record in the detail view.
type rescoredMsg struct {
	itemID   string
	decision model.Decision
}

// pane is one scrollable record column.
type pane struct {
	title   string
	records []model.Record
	cursor  int
	vp      viewport.Model
}

func (p *pane) move(delta int) {
	p.cursor = clamp(p.cursor+delta, 0, max(len(p.records)-1, 0))
}

// follow scrolls the viewport so the cursor row is fully visible.
func (p *pane) follow() {
	top := p.cursor * recordItemHeight
	bottom := top + recordItemHeight - 1
	switch {
	case top < p.vp.YOffset:
		p.vp.SetYOffset(top)
	case bottom >= p.vp.YOffset+p.vp.Height:
		p.vp.SetYOffset(bottom - p.vp.Height + 1)
	}
}

func (p *pane) refresh(focused bool) {
	p.vp.SetContent(renderRecords(p.records, p.cursor, focused))
}

func (p pane) selected() (model.Record, bool) {
	if len(p.records) == 0 {
		return model.Record{}, false
	}
	return p.records[p.cursor], true
}

func (p pane) render(width int, focused bool) (head, body string) {
	hs, bs := ui.headBlurred, ui.paneBlurred
	if focused {
		hs, bs = ui.headFocused, ui.paneFocused
	}
	label := fmt.Sprintf(" %s (%d)", p.title, len(p.records))
	head = lipgloss.NewStyle().Width(width + 2).Render(hs.Render(label))
	body = bs.Width(width).Render(p.vp.View())
	return head, body
}

type browserModel struct {
	panes  [2]pane
	focus  int
	width  int
	height int
	ready  bool

	view     viewState
	detail   model.Record
	reader   viewport.Model
	showDesc bool

	keywords []string
	rescore  *model.Decision

	wantQuit bool
}

func newBrowser(records []model.Record, keywords []string) browserModel {
	all, recommended := splitRecords(records)
	return browserModel{
		panes: [2]pane{
			{title: "All Items", records: all},
			{title: "Recommended", records: recommended},
		},
		keywords: keywords,
	}
}

func (m browserModel) Init() tea.Cmd { return nil }

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil
	case rescoredMsg:
		if m.view == viewDetail && msg.itemID == m.detail.Item.ID {
			d := msg.decision
			m.rescore = &d
			m.reader.SetContent(m.renderDetail())
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "q" || msg.Type == tea.KeyCtrlC {
			m.wantQuit = true
			return m, tea.Quit
		}
		if m.view == viewDetail {
			return m.detailKey(msg)
		}
		return m.listKey(msg)
	}
	return m, nil
}

func (m browserModel) listKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := &m.panes[m.focus]
	switch msg.String() {
	case "esc", "b":
		return m, tea.Quit
	case "tab", "left", "right", "h", "l":
		m.focus = 1 - m.focus
		m.refresh()
		return m, nil
	case "up", "k":
		p.move(-1)
	case "down", "j":
		p.move(1)
	case "enter":
		rec, ok := p.selected()
		if !ok {
			return m, nil
		}
		m.openDetail(rec)
		return m, nil
	default:
		// pgup/pgdn/home/end scroll the focused column.
		var cmd tea.Cmd
		p.vp, cmd = p.vp.Update(msg)
		return m, cmd
	}
	p.refresh(true)
	p.follow()
	return m, nil
}

func (m browserModel) detailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.view = viewList
	case "o":
		openURL(m.detail.Item.Link)
	case "r":
		if m.detail.Item.Description != "" {
			m.showDesc = !m.showDesc
			m.reader.SetContent(m.renderDetail())
			m.reader.GotoTop()
		}
	case "s":
		if len(m.keywords) > 0 && m.rescore == nil {
			return m, rescoreCmd(m.detail, m.keywords)
		}
	default:
		var cmd tea.Cmd
		m.reader, cmd = m.reader.Update(msg)
		return m, cmd
	}
	return m, nil
}

func rescoreCmd(rec model.Record, keywords []string) tea.Cmd {
	return func() tea.Msg {
		return rescoredMsg{
			itemID:   rec.Item.ID,
			decision: decision.Evaluate(keywords, decision.BuildSearchText(rec)),
		}
	}
}

func (m *browserModel) openDetail(rec model.Record) {
	m.view = viewDetail
	m.detail = rec
	m.rescore = nil
	m.showDesc = false
	m.reader = viewport.New(m.width-4, m.height-4)
	m.reader.SetContent(m.renderDetail())
}

func (m *browserModel) layout() {
	// Each column loses two border cells, plus one cell between columns.
	w := max((m.width-5)/2, 20)
	// Column header, top and bottom border, status bar.
	h := max(m.height-4, 5)

	for i := range m.panes {
		if !m.ready {
			m.panes[i].vp = viewport.New(w, h)
		} else {
			m.panes[i].vp.Width, m.panes[i].vp.Height = w, h
		}
	}
	m.ready = true
	m.refresh()

	if m.view == viewDetail {
		m.reader.Width, m.reader.Height = m.width-4, m.height-4
		m.reader.SetContent(m.renderDetail())
	}
}

func (m *browserModel) refresh() {
	for i := range m.panes {
		m.panes[i].refresh(i == m.focus)
	}
}

func (m browserModel) View() string {
	switch {
	case !m.ready:
		return "Initializing..."
	case m.view == viewDetail:
		return m.detailView()
	default:
		return m.listView()
	}
}

func (m browserModel) listView() string {
	w := m.panes[0].vp.Width
	lh, lb := m.panes[0].render(w, m.focus == 0)
	rh, rb := m.panes[1].render(w, m.focus == 1)

	heads := lipgloss.JoinHorizontal(lipgloss.Top, lh, " ", rh)
	bodies := lipgloss.JoinHorizontal(lipgloss.Top, lb, " ", rb)
	status := ui.status.Width(m.width).Render(fmt.Sprintf(
		"%d saved · %d recommended    tab switch  j/k move  enter open  esc tasks  q quit",
		len(m.panes[0].records), len(m.panes[1].records)))

	return lipgloss.JoinVertical(lipgloss.Left, heads, bodies, status)
}

func (m browserModel) detailView() string {
	keys := []string{"o open link"}
	if m.detail.Item.Description != "" {
		keys = append(keys, "r description")
	}
	if len(m.keywords) > 0 && m.rescore == nil {
		keys = append(keys, "s keyword check")
	}
	keys = append(keys, "esc back", "↑/↓ scroll", "q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		ui.heading.Render("Item"),
		ui.paneFocused.Width(m.width-2).Render(m.reader.View()),
		ui.status.Width(m.width).Render(strings.Join(keys, "  ")),
	)
}

func (m browserModel) renderDetail() string {
	rec := m.detail
	it, s, d := rec.Item, rec.Seller, rec.Decision
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(ui.label.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	addField("Title", it.Title)
	addField("Price", priceLine(it))
	addField("Region", it.Region)
	addField("Published", it.PublishedAt)
	addField("Want / Views", fmt.Sprintf("%d / %d", it.WantCount, it.ViewCount))
	if len(it.Tags) > 0 {
		addField("Tags", strings.Join(it.Tags, ", "))
	}
	addField("Item ID", it.ID)
	addField("Images", countLabel(len(it.ImageURLs), "image"))

	b.WriteByte('\n')
	addField("Seller", firstNonEmpty(s.Nick, it.SellerNick))
	addField("Seller ID", s.ID)
	addField("Zhima Credit", s.ZhimaCredit)
	addField("Registered", s.RegistrationAge)
	addField("As Seller", s.SellerPositive)
	addField("As Buyer", s.BuyerPositive)
	if s.SoldCount > 0 || s.ItemCount > 0 {
		addField("Sold / Listed", fmt.Sprintf("%d / %d", s.SoldCount, s.ItemCount))
	}

	b.WriteByte('\n')
	addField("Crawled", rec.CrawledAt.In(marketTZ).Format("2006-01-02 15:04 MST"))
	addField("Link", it.Link)

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return ui.rule.Render(label + fill)
	}

	b.WriteByte('\n')
	b.WriteString(divider("── Decision ") + "\n\n")
	verdict := "not recommended"
	if d.IsRecommended {
		verdict = "recommended"
	}
	addField("Verdict", verdict)
	addField("Source", d.Source)
	if d.Reason != "" {
		b.WriteString(ui.body.Render(wordWrap(d.Reason, wrapWidth)) + "\n")
	}
	if len(d.MatchedKeywords) > 0 {
		addField("Matched", strings.Join(d.MatchedKeywords, ", "))
	}
	if d.Error != "" {
		b.WriteString(ui.warn.Render("⚠ "+d.Error) + "\n")
	}

	if m.rescore != nil {
		b.WriteByte('\n')
		b.WriteString(divider("── Keyword Check ") + "\n\n")
		addField("Hits", strconv.Itoa(m.rescore.KeywordHitCount))
		addField("Matched", strings.Join(m.rescore.MatchedKeywords, ", "))
		b.WriteString(ui.body.Render(m.rescore.Reason) + "\n")
	}

	if it.Description != "" {
		b.WriteByte('\n')
		if m.showDesc {
			b.WriteString(divider("── Description ") + "\n\n")
			b.WriteString(ui.body.Render(wordWrap(it.Description, wrapWidth)) + "\n")
		} else {
			b.WriteString(ui.hint.Render("  press r to read the description") + "\n")
		}
	}

	return b.String()
}

func priceLine(it model.ListingItem) string {
	if it.Price == "" {
		return ""
	}
	line := "¥" + it.Price
	if it.OriginalPrice != "" && it.OriginalPrice != it.Price {
		line += fmt.Sprintf(" (was %s)", it.OriginalPrice)
	}
	return line
}

func countLabel(n int, noun string) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "1 " + noun
	default:
		return fmt.Sprintf("%d %ss", n, noun)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func renderRecords(records []model.Record, cursor int, isActive bool) string {
	if len(records) == 0 {
		return "  (no items)"
	}

	var b strings.Builder
	for i, rec := range records {
		title, sub, prefix := ui.rowTitle, ui.rowSub, "  "
		if isActive && i == cursor {
			title, sub, prefix = ui.cursorTitle, ui.cursorSub, "> "
		}

		mark := ""
		if rec.Decision.IsRecommended {
			mark = ui.star.Render("★ ")
		}
		b.WriteString(prefix + mark)
		b.WriteString(title.Render(rec.Item.Title))
		b.WriteByte('\n')

		b.WriteString(prefix)
		b.WriteString(sub.Render(fmt.Sprintf("¥%s · %s · %s",
			rec.Item.Price, firstNonEmpty(rec.Item.Region, "n/a"), rec.CrawledAt.In(marketTZ).Format("01-02 15:04"))))
		b.WriteByte('\n')

		if i < len(records)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// splitRecords sorts newest first and separates the recommended ones.
func splitRecords(records []model.Record) (all, recommended []model.Record) {
	all = append([]model.Record(nil), records...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CrawledAt.After(all[j].CrawledAt)
	})
	for _, r := range all {
		if r.Decision.IsRecommended {
			recommended = append(recommended, r)
		}
	}
	return all, recommended
}

func wordWrap(text string, width int) string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		runes := []rune(strings.TrimSpace(para))
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = runes[width:]
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	if url == "" {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// RunResultsTUI opens the two-column browser over records, newest first,
// with recommended items repeated on the right. Non-empty keywords enable the
// keyword check in the detail view. wantQuit reports whether the user quit
// outright rather than stepping back to the task picker.
func RunResultsTUI(records []model.Record, keywords []string) (wantQuit bool, err error) {
	final, err := tea.NewProgram(newBrowser(records, keywords), tea.WithAltScreen()).Run()
	if err != nil {
		return false, err
	}
	return final.(browserModel).wantQuit, nil
}
