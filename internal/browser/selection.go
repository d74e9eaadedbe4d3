package browser

import (
	"encoding/json"
	"fmt"
)

// SelectMode says how a SelectStep picks its option.
type SelectMode int

const (
	SelectByValue SelectMode = iota
	SelectByIndex
)

// SelectStep is one change of a selection control. For SelectByIndex a
// negative Index counts from the end of the option list as it is when the
// step runs.
type SelectStep struct {
	Model string
	Mode  SelectMode
	Value string
	Index int
}

func (s SelectStep) String() string {
	if s.Mode == SelectByValue {
		return fmt.Sprintf("%s=%q", s.Model, s.Value)
	}
	return fmt.Sprintf("%s[%d]", s.Model, s.Index)
}

// SelectionSteps returns the selection sequence for one subject. The year
// lists depend on each other, so the range is widened in two passes: second
// year to second-to-last, then first to last.
func SelectionSteps(subjectOption string) []SelectStep {
	return []SelectStep{
		{Model: SubjectModel, Mode: SelectByValue, Value: subjectOption},
		{Model: FirstYearModel, Mode: SelectByIndex, Index: 1},
		{Model: LastYearModel, Mode: SelectByIndex, Index: -2},
		{Model: FirstYearModel, Mode: SelectByIndex, Index: 0},
		{Model: LastYearModel, Mode: SelectByIndex, Index: -1},
	}
}

func controlQuery(model string) string {
	return fmt.Sprintf(`select[ng-model=%q]`, model)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Script returns JavaScript that makes the control visible, applies the
// selection and fires change. It evaluates to "" on success or a reason.
func (s SelectStep) Script() string {
	return fmt.Sprintf(`(function(query, byValue, value, index) {
	const el = document.querySelector(query);
	if (!el) return "control missing";
	el.style.display = "block";
	if (byValue) {
		const i = Array.from(el.options).findIndex(o => o.value === value);
		if (i < 0) return "no option with value " + value;
		el.selectedIndex = i;
	} else {
		const i = index < 0 ? el.options.length + index : index;
		if (i < 0 || i >= el.options.length) return "option index " + index + " out of range (" + el.options.length + " options)";
		el.selectedIndex = i;
	}
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return "";
})(%s, %t, %s, %d)`, jsString(controlQuery(s.Model)), s.Mode == SelectByValue, jsString(s.Value), s.Index)
}

// missingControlsScript evaluates to the models of the controls not yet on
// the page.
func missingControlsScript() string {
	models, _ := json.Marshal([]string{SubjectModel, FirstYearModel, LastYearModel})
	return fmt.Sprintf(`%s.filter(m => !document.querySelector('select[ng-model="' + m + '"]'))`, models)
}

func optionCountScript(model string) string {
	return fmt.Sprintf(`(function(el) { return el ? el.options.length : 0; })(document.querySelector(%s))`,
		jsString(controlQuery(model)))
}

func tableRowCountScript() string {
	return fmt.Sprintf(`(function(t) { return t ? t.querySelectorAll("tr").length : 0; })(document.querySelector(%s))`,
		jsString(TableSelector))
}
