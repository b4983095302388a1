// Package tui renders the pipeline's dashboard event channels (loot,
// consensus, graph, diff) as a live terminal progress view using bubbletea,
// with a viewport-driven refresh loop and lipgloss styling, generalized
// from campaign/shard page layouts to the pipeline's own event shapes.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"revai/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	lootStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d6dae0"))
)

type lootMsg pipeline.LootEvent
type consensusMsg pipeline.ConsensusEvent
type graphMsg struct{ nodes, links int }
type diffMsg pipeline.DiffEvent
type doneMsg struct{}

// Model is a bubbletea model subscribed to one pipeline.Events set for the
// duration of a single run.
type Model struct {
	events   *pipeline.Events
	quit     <-chan struct{}
	diffPane viewport.Model

	lootCount  int
	lastLoot   pipeline.LootEvent
	consensus  pipeline.ConsensusEvent
	graphNodes int
	graphLinks int
	diffCount  int
	lastDiff   pipeline.DiffEvent
}

// New builds a progress Model. quit is closed by the caller once the
// pipeline run returns, so the view exits even if a channel never fires
// again (a run with zero loot, for instance).
func New(events *pipeline.Events, quit <-chan struct{}) Model {
	vp := viewport.New(100, 12)
	vp.SetContent("waiting for the first rewritten module...")
	return Model{events: events, quit: quit, diffPane: vp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitLoot(m.events), waitConsensus(m.events), waitGraph(m.events), waitDiff(m.events), waitQuit(m.quit))
}

func waitLoot(e *pipeline.Events) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-e.Loot
		if !ok {
			return nil
		}
		return lootMsg(ev)
	}
}

func waitConsensus(e *pipeline.Events) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-e.Consensus
		if !ok {
			return nil
		}
		return consensusMsg(ev)
	}
}

func waitGraph(e *pipeline.Events) tea.Cmd {
	return func() tea.Msg {
		g, ok := <-e.Graph
		if !ok {
			return nil
		}
		return graphMsg{nodes: len(g.Nodes), links: len(g.Links)}
	}
}

func waitDiff(e *pipeline.Events) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-e.Diff
		if !ok {
			return nil
		}
		return diffMsg(ev)
	}
}

func waitQuit(q <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-q
		return doneMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case lootMsg:
		m.lootCount++
		m.lastLoot = pipeline.LootEvent(msg)
		return m, waitLoot(m.events)
	case consensusMsg:
		m.consensus = pipeline.ConsensusEvent(msg)
		return m, waitConsensus(m.events)
	case graphMsg:
		m.graphNodes, m.graphLinks = msg.nodes, msg.links
		return m, waitGraph(m.events)
	case diffMsg:
		m.diffCount++
		m.lastDiff = pipeline.DiffEvent(msg)
		m.diffPane.SetContent(m.lastDiff.Rewritten)
		return m, waitDiff(m.events)
	case doneMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.diffPane, cmd = m.diffPane.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("revai — live refinement progress"))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("call graph: "))
	fmt.Fprintf(&b, "%d functions, %d edges clustered so far\n", m.graphNodes, m.graphLinks)

	b.WriteString(labelStyle.Render("consensus:  "))
	for i, cat := range m.consensus.Categories {
		if i > 0 {
			b.WriteString(", ")
		}
		v := 0
		if i < len(m.consensus.Values) {
			v = m.consensus.Values[i]
		}
		fmt.Fprintf(&b, "%s=%d", cat, v)
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("rewrites:   "))
	fmt.Fprintf(&b, "%d diffs emitted\n", m.diffCount)

	b.WriteString(lootStyle.Render("secrets:    "))
	fmt.Fprintf(&b, "%d finding(s)", m.lootCount)
	if m.lootCount > 0 {
		fmt.Fprintf(&b, " (last: %s in %s)", m.lastLoot.Label, m.lastLoot.Module)
	}
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("latest rewrite:"))
	b.WriteString("\n")
	b.WriteString(m.diffPane.View())
	b.WriteString("\n\n")

	b.WriteString(dimStyle.Render("press q to hide this view (the run keeps going in the background)"))
	return b.String()
}

// Run starts the bubbletea program and blocks until quit is closed or the
// user presses q/ctrl+c. Errors are non-fatal: a broken terminal should
// never take down the underlying pipeline run.
func Run(events *pipeline.Events, quit <-chan struct{}) error {
	p := tea.NewProgram(New(events, quit))
	_, err := p.Run()
	return err
}
