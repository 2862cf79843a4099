// envsetup provides a lightweight .env configuration wizard.
// It runs automatically on first bot startup when no .env file exists,
// collecting LINE channel credentials, the LLM key and the admin key.
package envsetup

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type step int

const (
	stepWelcome step = iota
	stepChannelSecret
	stepChannelToken
	stepLLMProvider
	stepLLMKey
	stepAdminKey
	stepConfirm
	stepDone
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type model struct {
	step          step
	path          string
	input         textinput.Model
	channelSecret string
	channelToken  string
	llmProvider   string
	llmAPIKey     string
	adminKey      string
	err           error
}

func newModel(path string) model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 512
	ti.Focus()
	return model{step: stepWelcome, path: path, input: ti}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleEnter()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	m.err = nil
	value := strings.TrimSpace(m.input.Value())

	switch m.step {
	case stepWelcome:
		m = m.next(stepChannelSecret, true)

	case stepChannelSecret:
		if value == "" {
			m.err = errors.New("channel secret is required")
			return m, nil
		}
		m.channelSecret = value
		m = m.next(stepChannelToken, true)

	case stepChannelToken:
		if value == "" {
			m.err = errors.New("channel access token is required")
			return m, nil
		}
		m.channelToken = value
		m = m.next(stepLLMProvider, false)

	case stepLLMProvider:
		switch strings.ToLower(value) {
		case "1", "anthropic":
			m.llmProvider = "anthropic"
		case "2", "google":
			m.llmProvider = "google"
		default:
			m.err = errors.New("please enter 1 for Anthropic or 2 for Google")
			return m, nil
		}
		m = m.next(stepLLMKey, true)

	case stepLLMKey:
		if value == "" {
			m.err = errors.New("API key is required")
			return m, nil
		}
		m.llmAPIKey = value
		m = m.next(stepAdminKey, true)

	case stepAdminKey:
		if value == "" {
			generated, err := randomKey()
			if err != nil {
				m.err = err
				return m, nil
			}
			value = generated
		}
		m.adminKey = value
		m = m.next(stepConfirm, false)

	case stepConfirm:
		switch strings.ToLower(value) {
		case "", "y", "yes":
			if err := os.WriteFile(m.path, []byte(m.envContent()), 0600); err != nil {
				m.err = fmt.Errorf("writing %s: %w", m.path, err)
				return m, nil
			}
			m.step = stepDone
			return m, tea.Quit
		case "n", "no":
			m = newModel(m.path).next(stepChannelSecret, true)
		}
	}

	return m, nil
}

func (m model) next(s step, secret bool) model {
	m.step = s
	m.input.SetValue("")
	if secret {
		m.input.EchoMode = textinput.EchoPassword
		m.input.EchoCharacter = '•'
	} else {
		m.input.EchoMode = textinput.EchoNormal
	}
	return m
}

func (m model) envContent() string {
	llmModel, llmKeyName := "claude-haiku-4-5", "ANTHROPIC_API_KEY"
	if m.llmProvider == "google" {
		llmModel, llmKeyName = "gemini-2.5-flash", "GOOGLE_API_KEY"
	}

	return fmt.Sprintf(`DATABASE_URL=./kaitoribot.db
LINE_CHANNEL_SECRET=%s
LINE_CHANNEL_TOKEN=%s
LLM_PROVIDER=%s
LLM_MODEL=%s
%s=%s
ADMIN_KEY=%s
`, m.channelSecret, m.channelToken, m.llmProvider, llmModel, llmKeyName, m.llmAPIKey, m.adminKey)
}

func (m model) View() string {
	var s strings.Builder

	switch m.step {
	case stepWelcome:
		s.WriteString(titleStyle.Render("Kaitori Bot - Env Setup"))
		s.WriteString("\n\n")
		s.WriteString("This wizard will help you configure the bot.\n")
		s.WriteString("You'll need:\n\n")
		s.WriteString("  - A LINE Messaging API channel (secret and access token)\n")
		s.WriteString("  - An LLM API key (Anthropic or Google)\n")
		s.WriteString("\n")
		s.WriteString(dimStyle.Render("Press Enter to continue, Ctrl+C to exit"))
		s.WriteString("\n")
		return s.String()

	case stepChannelSecret:
		s.WriteString(titleStyle.Render("Step 1: LINE Channel Secret"))
		s.WriteString("\n\n")
		s.WriteString("  1. Go to " + linkStyle.Render("https://developers.line.biz/console/") + "\n")
		s.WriteString("  2. Open your Messaging API channel\n")
		s.WriteString("  3. Copy the Channel secret from the Basic settings tab\n\n")
		s.WriteString(labelStyle.Render("Paste your channel secret here:"))

	case stepChannelToken:
		s.WriteString(titleStyle.Render("Step 2: LINE Channel Access Token"))
		s.WriteString("\n\n")
		s.WriteString("  1. Open the Messaging API tab of the same channel\n")
		s.WriteString("  2. Issue a long-lived channel access token\n")
		s.WriteString("  3. Set the webhook URL to https://<your-host>/webhook\n\n")
		s.WriteString(labelStyle.Render("Paste your channel access token here:"))

	case stepLLMProvider:
		s.WriteString(titleStyle.Render("Step 3: Choose LLM Provider"))
		s.WriteString("\n\n")
		s.WriteString("  1. Anthropic (Claude)\n")
		s.WriteString("  2. Google (Gemini)\n\n")
		s.WriteString(labelStyle.Render("Enter 1 or 2:"))

	case stepLLMKey:
		s.WriteString(titleStyle.Render("Step 4: LLM API Key"))
		s.WriteString("\n\n")
		if m.llmProvider == "anthropic" {
			s.WriteString("  Create a key at " + linkStyle.Render("https://console.anthropic.com") + "\n\n")
		} else {
			s.WriteString("  Create a key at " + linkStyle.Render("https://aistudio.google.com/apikey") + "\n\n")
		}
		s.WriteString(labelStyle.Render("Paste your API key here:"))

	case stepAdminKey:
		s.WriteString(titleStyle.Render("Step 5: Admin Key"))
		s.WriteString("\n\n")
		s.WriteString("  Sent as X-Admin-Key to /admin endpoints.\n\n")
		s.WriteString(labelStyle.Render("Enter an admin key, or leave empty to generate one:"))

	case stepConfirm:
		s.WriteString(titleStyle.Render("Configuration Complete"))
		s.WriteString("\n\n")
		s.WriteString("  Database:       " + successStyle.Render("./kaitoribot.db") + "\n")
		s.WriteString("  Channel secret: " + successStyle.Render(maskToken(m.channelSecret)) + "\n")
		s.WriteString("  Channel token:  " + successStyle.Render(maskToken(m.channelToken)) + "\n")
		s.WriteString("  LLM Provider:   " + successStyle.Render(m.llmProvider) + "\n")
		s.WriteString("  LLM API Key:    " + successStyle.Render(maskToken(m.llmAPIKey)) + "\n")
		s.WriteString("  Admin key:      " + successStyle.Render(maskToken(m.adminKey)) + "\n\n")
		s.WriteString(labelStyle.Render("Save this configuration to " + m.path + "? [Y/n]:"))

	case stepDone:
		return successStyle.Render("Saved "+m.path) + "\n"
	}

	s.WriteString("\n")
	s.WriteString(m.input.View())
	if m.err != nil {
		s.WriteString("\n" + errorStyle.Render(m.err.Error()))
	}
	s.WriteString("\n")
	return s.String()
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func randomKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating admin key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Run starts the setup wizard and returns true if the .env file was written
func Run() (bool, error) {
	p := tea.NewProgram(newModel(".env"))
	finalModel, err := p.Run()
	if err != nil {
		return false, err
	}

	m := finalModel.(model)
	return m.step == stepDone, nil
}

// NeedsSetup checks if .env file exists
func NeedsSetup() bool {
	_, err := os.Stat(".env")
	return os.IsNotExist(err)
}
