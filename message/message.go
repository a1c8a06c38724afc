package message

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

//go:embed messages_*.json
var catalog embed.FS

const defaultLocale = "en"

// LocalizedMessages holds every user-facing text. Entries containing verbs are
// fmt format strings.
type LocalizedMessages struct {
	// phase announcements
	SuggestionPhaseStarted string `json:"suggestion_phase_started"`
	VotingPhaseStarted     string `json:"voting_phase_started"`
	ReadingPhaseStarted    string `json:"reading_phase_started"`
	DiscussionPhaseStarted string `json:"discussion_phase_started"`
	CycleCompleted         string `json:"cycle_completed"`
	SuggestionListItem     string `json:"suggestion_list_item"`
	NoSuggestions          string `json:"no_suggestions"`
	SelectedBook           string `json:"selected_book"`
	BookLink               string `json:"book_link"`
	BookNotes              string `json:"book_notes"`
	NoBookSelected         string `json:"no_book_selected"`
	UnnamedBook            string `json:"unnamed_book"`
	WinnerPickedAtRandom   string `json:"winner_picked_at_random"`

	// scheduler notices
	DeadlineReminder            string `json:"deadline_reminder"`
	SuggestionPhaseExtended     string `json:"suggestion_phase_extended"`
	BlockedNotEnoughSuggestions string `json:"blocked_not_enough_suggestions"`
	BlockedNoVotes              string `json:"blocked_no_votes"`
	BlockedNoSelectedBook       string `json:"blocked_no_selected_book"`
	BlockedSelectedBookNotFound string `json:"blocked_selected_book_not_found"`

	// commands
	CycleCreated        string `json:"cycle_created"`
	CycleAlreadyActive  string `json:"cycle_already_active"`
	NoActiveCycle       string `json:"no_active_cycle"`
	CycleAlreadyStarted string `json:"cycle_already_started"`
	ConfigureUsage      string `json:"configure_usage"`
	SuggestUsage        string `json:"suggest_usage"`
	SuggestionAdded     string `json:"suggestion_added"`
	BookAlreadyProposed string `json:"book_already_proposed"`
	WrongPhase          string `json:"wrong_phase"`
	VoteUsage           string `json:"vote_usage"`
	VoteRecorded        string `json:"vote_recorded"`
	AlreadyVoted        string `json:"already_voted"`
	InvalidBallot       string `json:"invalid_ballot"`
	CycleReset          string `json:"cycle_reset"`
	CycleCancelled      string `json:"cycle_cancelled"`
	PhaseUsage          string `json:"phase_usage"`
	PhaseForced         string `json:"phase_forced"`
	StatusReport        string `json:"status_report"`
	StatusSelectedBook  string `json:"status_selected_book"`
	HelpInfo            string `json:"help_info"`
	SomethingWrong      string `json:"something_wrong"`
}

// LoadMessaged loads the catalog for APP_LOCALE.
func LoadMessaged() (*LocalizedMessages, error) {
	return Load(determineLocale())
}

// Load returns the catalog for locale.
func Load(locale string) (*LocalizedMessages, error) {
	if locale == "" {
		locale = defaultLocale
	}
	return readMessagesFile(locale)
}

// Default returns the built-in English catalog. It panics only if the
// embedded file is broken.
func Default() *LocalizedMessages {
	m, err := Load(defaultLocale)
	if err != nil {
		panic(err)
	}
	return m
}

func determineLocale() string {
	l := os.Getenv("APP_LOCALE")
	if l == "" {
		return defaultLocale
	}
	return l
}

func readMessagesFile(locale string) (*LocalizedMessages, error) {
	fileName := fmt.Sprintf("messages_%s.json", locale)
	f, err := catalog.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("cannot open the file: %s", fileName)
	}
	defer f.Close()
	return parseMessaged(f)
}

func parseMessaged(r io.Reader) (*LocalizedMessages, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read data from messages file: %w", err)
	}

	var res LocalizedMessages
	err = json.Unmarshal(data, &res)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal data during parsing messages file: %w", err)
	}
	return &res, nil
}
