package scenario

import "time"

// Scenario and step ids of the built-in flows. Handlers and keyboards key
// off these.
const (
	Onboarding    = "onboarding"
	GroupSetup    = "group_setup"
	EventCreation = "event_creation"
	AdminPanel    = "admin_panel"

	StepLanguageSelection = "language_selection"
	StepNameInput         = "name_input"
	StepLocationInput     = "location_input"
	StepWelcome           = "welcome"

	StepPermissionCheck   = "permission_check"
	StepPermissionRequest = "permission_request"
	StepConfiguration     = "configuration"
	StepComplete          = "complete"

	StepTitleInput       = "title_input"
	StepDescriptionInput = "description_input"
	StepDateInput        = "date_input"
	StepTimeInput        = "time_input"
	StepEventLocation    = "location_input"
	StepConfirmation     = "confirmation"
	StepCreate           = "create"
	StepCancel           = "cancel"

	StepMainMenu        = "main_menu"
	StepUserManagement  = "user_management"
	StepGroupManagement = "group_management"
	StepEventManagement = "event_management"
	StepSystemSettings  = "system_settings"
	StepStatistics      = "statistics"
)

// Data bag keys shared between steps and completion handlers.
const (
	DataLanguage       = "language"
	DataName           = "name"
	DataLocation       = "location"
	DataEventTitle     = "event_title"
	DataEventDesc      = "event_description"
	DataEventDate      = "event_date"
	DataEventTime      = "event_time"
	DataEventLocation  = "event_location"
	DataEventGroupID   = "event_group_id"
	DataSetupMessageID = "setup_message_id"
	DataSetupGroupID   = "setup_group_id"
)

const (
	ChoiceConfirm = "confirm"
	ChoiceCancel  = "cancel"
)

var namePattern = `[A-Za-zА-Яа-я\s]+`

// RegisterCatalog installs the four built-in flows. supportedLanguages is
// the Choice set for onboarding's language step.
func RegisterCatalog(r *Registry, supportedLanguages []string) error {
	for _, sc := range []*Scenario{
		onboardingScenario(supportedLanguages),
		groupSetupScenario(),
		eventCreationScenario(),
		adminPanelScenario(),
	} {
		if err := r.Register(sc); err != nil {
			return err
		}
	}
	return nil
}

func onboardingScenario(languages []string) *Scenario {
	return &Scenario{
		ID:            Onboarding,
		InitialStep:   StepLanguageSelection,
		MaxDuration:   time.Hour,
		Interruptible: false,
		Steps: map[string]*Step{
			StepLanguageSelection: {
				ID:            StepLanguageSelection,
				NextSteps:     []string{StepNameInput},
				RequiresInput: true,
				Validation: &ValidationRule{
					Kind:         KindChoice,
					Choices:      languages,
					ErrorMessage: "Please pick a language from the keyboard.",
				},
			},
			StepNameInput: {
				ID:            StepNameInput,
				NextSteps:     []string{StepLocationInput},
				RequiresInput: true,
				Validation: &ValidationRule{
					Kind:         KindText,
					MinLength:    2,
					MaxLength:    50,
					Pattern:      namePattern,
					ErrorMessage: "Please enter your name (2-50 letters).",
				},
			},
			StepLocationInput: {
				ID:            StepLocationInput,
				NextSteps:     []string{StepWelcome},
				RequiresInput: true,
				Skippable:     true,
				Validation: &ValidationRule{
					Kind:      KindLocation,
					MinLength: 2,
					MaxLength: 100,
				},
			},
			StepWelcome: {
				ID: StepWelcome,
			},
		},
	}
}

func groupSetupScenario() *Scenario {
	return &Scenario{
		ID:            GroupSetup,
		InitialStep:   StepPermissionCheck,
		MaxDuration:   30 * time.Minute,
		Interruptible: true,
		Steps: map[string]*Step{
			StepPermissionCheck: {
				ID:        StepPermissionCheck,
				NextSteps: []string{StepPermissionRequest, StepConfiguration},
			},
			StepPermissionRequest: {
				ID:        StepPermissionRequest,
				NextSteps: []string{StepPermissionCheck},
			},
			StepConfiguration: {
				ID:            StepConfiguration,
				NextSteps:     []string{StepComplete},
				RequiresInput: true,
			},
			StepComplete: {
				ID: StepComplete,
			},
		},
	}
}

func eventCreationScenario() *Scenario {
	return &Scenario{
		ID:            EventCreation,
		InitialStep:   StepTitleInput,
		MaxDuration:   30 * time.Minute,
		Interruptible: true,
		Steps: map[string]*Step{
			StepTitleInput: {
				ID:            StepTitleInput,
				NextSteps:     []string{StepDescriptionInput},
				RequiresInput: true,
				Validation:    &ValidationRule{Kind: KindText, MinLength: 3, MaxLength: 100},
			},
			StepDescriptionInput: {
				ID:            StepDescriptionInput,
				NextSteps:     []string{StepDateInput},
				RequiresInput: true,
				Skippable:     true,
				Validation:    &ValidationRule{Kind: KindText, MinLength: 10, MaxLength: 500},
			},
			StepDateInput: {
				ID:            StepDateInput,
				NextSteps:     []string{StepTimeInput},
				RequiresInput: true,
				Validation:    &ValidationRule{Kind: KindDate},
			},
			StepTimeInput: {
				ID:            StepTimeInput,
				NextSteps:     []string{StepEventLocation},
				RequiresInput: true,
				Validation:    &ValidationRule{Kind: KindTime},
			},
			StepEventLocation: {
				ID:            StepEventLocation,
				NextSteps:     []string{StepConfirmation},
				RequiresInput: true,
				Validation:    &ValidationRule{Kind: KindLocation, MinLength: 3, MaxLength: 200},
			},
			StepConfirmation: {
				ID:            StepConfirmation,
				NextSteps:     []string{StepCreate, StepCancel},
				RequiresInput: true,
				Validation: &ValidationRule{
					Kind:    KindChoice,
					Choices: []string{ChoiceConfirm, ChoiceCancel},
				},
			},
			StepCreate: {ID: StepCreate},
			StepCancel: {ID: StepCancel},
		},
	}
}

func adminPanelScenario() *Scenario {
	spokes := []string{
		StepUserManagement,
		StepGroupManagement,
		StepEventManagement,
		StepSystemSettings,
		StepStatistics,
	}
	steps := map[string]*Step{
		StepMainMenu: {
			ID:            StepMainMenu,
			NextSteps:     spokes,
			RequiresInput: true,
			Validation: &ValidationRule{
				Kind:    KindChoice,
				Choices: spokes,
			},
		},
	}
	for _, spoke := range spokes {
		steps[spoke] = &Step{
			ID:        spoke,
			NextSteps: []string{StepMainMenu},
		}
	}
	return &Scenario{
		ID:            AdminPanel,
		InitialStep:   StepMainMenu,
		MaxDuration:   time.Hour,
		Interruptible: true,
		Steps:         steps,
	}
}
