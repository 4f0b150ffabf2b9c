// api/schemas/actions.go
package schemas

import (
	"fmt"
	"strings"
)

// ActionKind enumerates the closed set of browser operations a caller may
// request against a session.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionType       ActionKind = "type"
	ActionScreenshot ActionKind = "screenshot"
	ActionExtract    ActionKind = "extract"
	ActionEvaluate   ActionKind = "evaluate"
)

// Fixed credit cost per action kind. The caller's billing layer debits these
// after a successful dispatch; failed or rejected actions charge nothing.
var actionCosts = map[ActionKind]int{
	ActionNavigate:   10,
	ActionClick:      5,
	ActionType:       5,
	ActionScreenshot: 15,
	ActionExtract:    10,
	ActionEvaluate:   20,
}

// NavigateParams carries the target URL for a navigation.
type NavigateParams struct {
	URL string `json:"url"`
}

// ClickParams identifies the element to click by CSS selector.
type ClickParams struct {
	Target string `json:"target"`
}

// TypeParams identifies the input element and the text to type into it.
type TypeParams struct {
	Target string `json:"target"`
	Value  string `json:"value"`
}

// ScreenshotParams has no fields; screenshots always capture the viewport.
type ScreenshotParams struct{}

// ExtractParams identifies the element whose text content is read.
type ExtractParams struct {
	Target string `json:"target"`
}

// EvaluateParams carries a script to run against the page.
type EvaluateParams struct {
	Code string `json:"code"`
}

// Action is a tagged union over the supported browser operations. Exactly one
// variant pointer must be set, and it must match Kind. Constructing actions
// through the New* helpers guarantees this; Validate enforces it for actions
// decoded from external input.
type Action struct {
	Kind ActionKind `json:"kind"`

	Navigate   *NavigateParams   `json:"navigate,omitempty"`
	Click      *ClickParams      `json:"click,omitempty"`
	Type       *TypeParams       `json:"type,omitempty"`
	Screenshot *ScreenshotParams `json:"screenshot,omitempty"`
	Extract    *ExtractParams    `json:"extract,omitempty"`
	Evaluate   *EvaluateParams   `json:"evaluate,omitempty"`
}

func NewNavigateAction(url string) Action {
	return Action{Kind: ActionNavigate, Navigate: &NavigateParams{URL: url}}
}

func NewClickAction(target string) Action {
	return Action{Kind: ActionClick, Click: &ClickParams{Target: target}}
}

func NewTypeAction(target, value string) Action {
	return Action{Kind: ActionType, Type: &TypeParams{Target: target, Value: value}}
}

func NewScreenshotAction() Action {
	return Action{Kind: ActionScreenshot, Screenshot: &ScreenshotParams{}}
}

func NewExtractAction(target string) Action {
	return Action{Kind: ActionExtract, Extract: &ExtractParams{Target: target}}
}

func NewEvaluateAction(code string) Action {
	return Action{Kind: ActionEvaluate, Evaluate: &EvaluateParams{Code: code}}
}

// Cost returns the fixed credit cost for the action's kind, or 0 for an
// unknown kind (which Validate would have rejected anyway).
func (a Action) Cost() int {
	return actionCosts[a.Kind]
}

// variantCount returns how many of the variant pointers are populated.
func (a Action) variantCount() int {
	n := 0
	for _, set := range []bool{
		a.Navigate != nil, a.Click != nil, a.Type != nil,
		a.Screenshot != nil, a.Extract != nil, a.Evaluate != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that the action has a known kind, that exactly the matching
// variant is populated, and that the variant's required fields are non-empty.
// This must pass before the action is screened, and screening must pass
// before it is dispatched.
func (a Action) Validate() error {
	if a.variantCount() != 1 {
		return fmt.Errorf("action must carry exactly one parameter variant, got %d", a.variantCount())
	}

	switch a.Kind {
	case ActionNavigate:
		if a.Navigate == nil {
			return fmt.Errorf("action kind %q requires navigate parameters", a.Kind)
		}
		if strings.TrimSpace(a.Navigate.URL) == "" {
			return fmt.Errorf("navigate action requires a non-empty url")
		}
	case ActionClick:
		if a.Click == nil {
			return fmt.Errorf("action kind %q requires click parameters", a.Kind)
		}
		if strings.TrimSpace(a.Click.Target) == "" {
			return fmt.Errorf("click action requires a non-empty target selector")
		}
	case ActionType:
		if a.Type == nil {
			return fmt.Errorf("action kind %q requires type parameters", a.Kind)
		}
		if strings.TrimSpace(a.Type.Target) == "" {
			return fmt.Errorf("type action requires a non-empty target selector")
		}
	case ActionScreenshot:
		if a.Screenshot == nil {
			return fmt.Errorf("action kind %q requires screenshot parameters", a.Kind)
		}
	case ActionExtract:
		if a.Extract == nil {
			return fmt.Errorf("action kind %q requires extract parameters", a.Kind)
		}
		if strings.TrimSpace(a.Extract.Target) == "" {
			return fmt.Errorf("extract action requires a non-empty target selector")
		}
	case ActionEvaluate:
		if a.Evaluate == nil {
			return fmt.Errorf("action kind %q requires evaluate parameters", a.Kind)
		}
		if strings.TrimSpace(a.Evaluate.Code) == "" {
			return fmt.Errorf("evaluate action requires a non-empty script")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}

	return nil
}

// FreeTextFields returns the user- or AI-supplied strings that must pass the
// injection screener before the action may be dispatched. Navigation URLs are
// handled separately by the URL policy check.
func (a Action) FreeTextFields() []string {
	switch a.Kind {
	case ActionClick:
		if a.Click != nil {
			return []string{a.Click.Target}
		}
	case ActionType:
		if a.Type != nil {
			return []string{a.Type.Target, a.Type.Value}
		}
	case ActionExtract:
		if a.Extract != nil {
			return []string{a.Extract.Target}
		}
	case ActionEvaluate:
		if a.Evaluate != nil {
			return []string{a.Evaluate.Code}
		}
	}
	return nil
}
