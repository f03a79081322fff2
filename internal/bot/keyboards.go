package bot

import (
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

// languageKeyboard renders one button per supported language, payload
// prefix + code.
func languageKeyboard(languages []string, payloadPrefix string) [][]Button {
	rows := make([][]Button, 0, len(languages))
	for _, code := range languages {
		rows = append(rows, []Button{{
			Text: i18n.GetLanguageName(code),
			Data: payloadPrefix + code,
		}})
	}
	return rows
}

func adminMenuKeyboard(lang string) [][]Button {
	return [][]Button{
		{
			{Text: i18n.Get("Users", lang), Data: "admin:" + scenario.StepUserManagement},
			{Text: i18n.Get("Groups", lang), Data: "admin:" + scenario.StepGroupManagement},
		},
		{
			{Text: i18n.Get("Events", lang), Data: "admin:" + scenario.StepEventManagement},
			{Text: i18n.Get("Settings", lang), Data: "admin:" + scenario.StepSystemSettings},
		},
		{
			{Text: i18n.Get("Statistics", lang), Data: "admin:" + scenario.StepStatistics},
			{Text: i18n.Get("Close", lang), Data: "admin:close"},
		},
	}
}

func adminBackKeyboard(lang string) [][]Button {
	return [][]Button{{
		{Text: i18n.Get("Back", lang), Data: "admin:" + scenario.StepMainMenu},
	}}
}
