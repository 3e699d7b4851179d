package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send     key.Binding
	NextCard key.Binding
	PrevCard key.Binding
	Left     key.Binding
	Right    key.Binding
	Up       key.Binding
	Down     key.Binding
	Toggle   key.Binding
	Back     key.Binding
	Delete   key.Binding
	Escape   key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "发送/确认")),
	NextCard: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "选择卡片")),
	PrevCard: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "上一个")),
	Left:     key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "按钮")),
	Right:    key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "按钮")),
	Up:       key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "上移")),
	Down:     key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "下移")),
	Toggle:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "勾选")),
	Back:     key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "上一题")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "删除")),
	Escape:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "返回")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "退出")),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.NextCard, k.Left, k.Right, k.Escape, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.NextCard, k.PrevCard, k.Left, k.Right},
		{k.Up, k.Down, k.Toggle, k.Back, k.Delete, k.Escape, k.Quit},
	}
}
