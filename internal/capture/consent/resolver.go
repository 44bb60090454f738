// Package consent implements the in-page consent/popup resolver: it runs a
// single evaluated-in-page JS program that accepts cookie banners across
// major CMPs, falls back to text matching, force-removes stubborn
// overlays, and persists synthetic acceptance so the page does not
// re-prompt on reload.
package consent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/archivore/mirror/internal/capture"
)

// Config carries the user-tunable parts of the resolver's vocabulary.
type Config struct {
	ExtraSelectors       []string
	ForceRemoveSelectors []string
	ButtonTexts          []string
	RetryAttempts        int
	RetryIntervalMs      int64
	MutationWindowMs     int64
}

// builtinSelectors lists known CMP accept-button selectors, checked before
// any text-matching pass.
var builtinSelectors = []string{
	// OneTrust
	"#onetrust-accept-btn-handler",
	"button#accept-recommended-btn-handler",
	// Cookiebot
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#CybotCookiebotDialogBodyButtonAccept",
	// Usercentrics
	"button[data-testid='uc-accept-all-button']",
	"#usercentrics-root button[data-testid='uc-accept-all-button']",
	// Sourcepoint
	"button.sp_choice_type_11",
	"button[title='Accept All']",
	// Didomi
	"#didomi-notice-agree-button",
	// Klaro
	".klaro .cm-btn-accept-all",
	// Complianz
	".cmplz-accept",
	// Generic accept-class / aria-label heuristics
	"[class*='accept' i][class*='cookie' i]",
	"button[aria-label*='accept' i]",
	"button[id*='accept' i]",
}

// builtinOverlaySelectors lists known blocking-overlay containers removed
// when no click succeeds.
var builtinOverlaySelectors = []string{
	"#onetrust-consent-sdk",
	"#onetrust-banner-sdk",
	"#CybotCookiebotDialog",
	"#usercentrics-root",
	"#sp_message_container",
	"#didomi-host",
	".klaro",
	".cmplz-cookiebanner-container",
	"[class*='cookie-banner' i]",
	"[class*='cookie-consent' i]",
}

// defaultButtonTexts is the normalized multilingual accept-button
// vocabulary used by the text-matching pass.
var defaultButtonTexts = []string{
	"accept all", "accept cookies", "accept", "agree", "i agree", "ok", "got it",
	"allow all", "allow cookies", "continue", "understood",
	"akzeptieren", "alle akzeptieren", "zustimmen",
	"tout accepter", "accepter", "j'accepte",
	"aceptar", "aceptar todo", "de acuerdo",
	"accetta", "accetta tutto",
	"aceitar", "aceitar tudo",
	"akkoord", "alles accepteren",
}

// Result reports what the resolver did, for logging/reasons[] purposes.
type Result struct {
	Clicked     bool     `json:"clicked"`
	Removed     int      `json:"removed"`
	FramesTried int      `json:"framesTried"`
	Errors      []string `json:"errors"`
}

// Resolve runs the resolver program against the page through driver.
// It never returns an error that should fail the capture: failures are
// reported in the Result's Errors slice and the caller decides whether to
// record a popupErr reason.
func Resolve(ctx context.Context, driver capture.Driver, cfg Config) (Result, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryIntervalMs <= 0 {
		cfg.RetryIntervalMs = 400
	}

	args, err := json.Marshal(struct {
		Selectors      []string `json:"selectors"`
		OverlaySel     []string `json:"overlaySelectors"`
		ExtraSel       []string `json:"extraSelectors"`
		ForceRemoveSel []string `json:"forceRemoveSelectors"`
		Texts          []string `json:"texts"`
		Attempts       int      `json:"attempts"`
		IntervalMs     int64    `json:"intervalMs"`
	}{
		Selectors:      builtinSelectors,
		OverlaySel:     builtinOverlaySelectors,
		ExtraSel:       cfg.ExtraSelectors,
		ForceRemoveSel: cfg.ForceRemoveSelectors,
		Texts:          append(append([]string{}, defaultButtonTexts...), cfg.ButtonTexts...),
		Attempts:       cfg.RetryAttempts,
		IntervalMs:     cfg.RetryIntervalMs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling consent args: %w", err)
	}

	script := fmt.Sprintf("(%s)(%s)", resolverProgram, string(args))

	var result Result
	if err := driver.Evaluate(ctx, script, &result); err != nil {
		return Result{Errors: []string{err.Error()}}, nil
	}
	return result, nil
}
