package screening

import (
	"strconv"
	"strings"
)

// Step names a state of the screening flow.
type Step string

const (
	StepPatientInfo     Step = "patient-info"
	StepSelectType      Step = "select-type"
	StepOroscanMedical  Step = "oroscan-medical"
	StepOroscanFamily   Step = "oroscan-family"
	StepOroscanFeatures Step = "oroscan-features"
	StepOroscanImages   Step = "oroscan-images"
	StepMedtechDietary  Step = "medtech-dietary"
	StepMedtechMedical  Step = "medtech-medical"
	StepMedtechLife     Step = "medtech-lifestyle"
	StepMedtechDevice   Step = "medtech-device"
	StepSuccess         Step = "success"
)

// QuestionKind controls which answers a question accepts.
type QuestionKind string

const (
	KindYesNo  QuestionKind = "yes-no"
	KindChoice QuestionKind = "choice"
	KindImage  QuestionKind = "image"
	KindNumber QuestionKind = "number"
)

// NoImage is the answer to an image question when no picture matches.
const NoImage = "none"

// DurationOptions are the accepted habit durations.
var DurationOptions = []string{
	"less-than-1-year",
	"1-2-years",
	"2-5-years",
	"5-10-years",
	"more-than-10-years",
}

// Question is one entry of a program's fixed catalog.
type Question struct {
	ID              string       `json:"id"`
	Step            Step         `json:"step"`
	Category        string       `json:"category"`
	Text            string       `json:"text"`
	Kind            QuestionKind `json:"kind"`
	Options         []string     `json:"options,omitempty"`
	ImageCount      int          `json:"image_count,omitempty"`
	Required        bool         `json:"required"`
	AcceptsDuration bool         `json:"accepts_duration"`
}

func yesNo(id string, step Step, category, text string, required bool) Question {
	return Question{ID: id, Step: step, Category: category, Text: text, Kind: KindYesNo, Options: []string{"yes", "no"}, Required: required}
}

func habit(id, text string) Question {
	q := yesNo(id, StepOroscanMedical, "medical", text, true)
	q.AcceptsDuration = true
	return q
}

func imageChoice(id, text string, count int) Question {
	return Question{ID: id, Step: StepOroscanFeatures, Category: "features", Text: text, Kind: KindImage, ImageCount: count, Required: true}
}

var oroscanCatalog = []Question{
	habit("alcohol", "Do you consume alcohol?"),
	habit("tobacco", "Do you use tobacco products?"),
	habit("gutka", "Do you chew gutka?"),
	habit("paan", "Do you chew paan?"),
	yesNo("precipitation", StepOroscanMedical, "medical", "Do you have a sharp tooth or ill-fitting denture rubbing the inside of your mouth?", true),
	yesNo("hiv", StepOroscanMedical, "medical", "Have you ever been diagnosed with HIV?", true),
	yesNo("hpv", StepOroscanMedical, "medical", "Have you ever been diagnosed with HPV?", true),

	yesNo("family_cancer", StepOroscanFamily, "family", "Does anyone in your family have a history of oral cancer?", true),

	imageChoice("asymmetry", "Does your face or mouth look asymmetrical like the picture?", 1),
	imageChoice("patches_image", "Do you have red or white patches in your mouth like any of the pictures?", 13),
	yesNo("sore", StepOroscanFeatures, "features", "Do you have a sore in the mouth that has not healed for more than two weeks?", true),
	yesNo("neck_lumps", StepOroscanFeatures, "features", "Do you have any lumps in the neck?", true),
	imageChoice("lumps_mouth", "Do you have lumps in the mouth like any of the pictures?", 4),
	yesNo("speech", StepOroscanFeatures, "features", "Do you have difficulty in speaking?", true),
	yesNo("chewing", StepOroscanFeatures, "features", "Do you have difficulty in chewing or swallowing?", true),
	yesNo("oral_pain", StepOroscanFeatures, "features", "Do you have pain in the mouth?", true),
}

var medtechCatalog = []Question{
	{ID: "fruitsVegetablesFrequency", Step: StepMedtechDietary, Category: "dietary", Text: "How often do you eat fruits and vegetables?", Kind: KindChoice, Options: []string{"Daily", "Occasionally", "Rarely"}},
	yesNo("consumesIronRichFoods", StepMedtechDietary, "dietary", "Do you consume iron-rich foods like green leafy vegetables, red meat, or beans?", false),
	yesNo("feelsTiredOrWeak", StepMedtechDietary, "dietary", "Have you had any recent episodes of feeling unusually tired or weak?", false),
	yesNo("feelsDizzyOrHeadaches", StepMedtechDietary, "dietary", "Do you often feel dizzy or have headaches?", false),

	yesNo("hasStartedMenstruating", StepMedtechMedical, "menstrual", "Have you started menstruating?", false),
	yesNo("bleedingPast7Days", StepMedtechMedical, "medical", "Have you experienced any bleeding in the past 7 days?", false),
	yesNo("diagnosedWithAnemia", StepMedtechMedical, "medical", "Have you ever been diagnosed with Anemia before?", false),
	yesNo("takingMedications", StepMedtechMedical, "medical", "Are you currently taking any medications?", false),

	yesNo("regularPhysicalActivity", StepMedtechLife, "lifestyle", "Do you participate in regular physical activity or sports?", false),
	{ID: "energyLevels", Step: StepMedtechLife, Category: "lifestyle", Text: "How would you rate your overall energy levels on most days?", Kind: KindChoice, Options: []string{"Low", "Moderate", "High"}},
	yesNo("unexplainedWeightLoss", StepMedtechLife, "general", "Have you experienced any recent unexplained weight loss?", false),
	yesNo("chronicHealthConditions", StepMedtechLife, "general", "Do you have any chronic health conditions?", false),

	{ID: "height", Step: StepMedtechDevice, Category: "physical", Text: "Height (cm)", Kind: KindNumber},
	{ID: "weight", Step: StepMedtechDevice, Category: "physical", Text: "Weight (kg)", Kind: KindNumber},
}

var catalogIndex = func() map[Program]map[string]Question {
	idx := map[Program]map[string]Question{Oroscan: {}, Medtech: {}}
	for _, q := range oroscanCatalog {
		idx[Oroscan][q.ID] = q
	}
	for _, q := range medtechCatalog {
		idx[Medtech][q.ID] = q
	}
	return idx
}()

// Catalog returns the ordered questions of a program.
func Catalog(p Program) []Question {
	var src []Question
	switch p {
	case Oroscan:
		src = oroscanCatalog
	case Medtech:
		src = medtechCatalog
	}
	out := make([]Question, len(src))
	copy(out, src)
	return out
}

// LookupQuestion finds a question by ID within a program.
func LookupQuestion(p Program, id string) (Question, bool) {
	q, ok := catalogIndex[p][id]
	return q, ok
}

// StepQuestions returns the questions asked on step, in catalog order.
func StepQuestions(p Program, step Step) []Question {
	var out []Question
	for _, q := range Catalog(p) {
		if q.Step == step {
			out = append(out, q)
		}
	}
	return out
}

// CatalogPosition is the question's index in its program catalog.
func CatalogPosition(p Program, id string) int {
	for i, q := range Catalog(p) {
		if q.ID == id {
			return i
		}
	}
	return -1
}

var (
	affirmatives = map[string]bool{"yes": true, "हाँ": true, "हां": true, "হ্যাঁ": true}
	negatives    = map[string]bool{"no": true, "नहीं": true, "না": true}
)

// IsAffirmative reports whether answer means "yes" in any supported language.
func IsAffirmative(answer string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(answer))]
}

func isNegative(answer string) bool {
	return negatives[strings.ToLower(strings.TrimSpace(answer))]
}

// Normalize validates answer for q and returns the stored form. ok is false
// when the answer is not acceptable.
func (q Question) Normalize(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	switch q.Kind {
	case KindYesNo:
		if IsAffirmative(answer) || isNegative(answer) {
			if lower := strings.ToLower(answer); lower == "yes" || lower == "no" {
				return lower, true
			}
			return answer, true
		}
	case KindChoice:
		for _, opt := range q.Options {
			if strings.EqualFold(opt, answer) {
				return opt, true
			}
		}
	case KindImage:
		if strings.EqualFold(answer, NoImage) {
			return NoImage, true
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= q.ImageCount {
			return strconv.Itoa(n), true
		}
	case KindNumber:
		v, err := strconv.ParseFloat(answer, 64)
		if err == nil && v > 0 {
			return answer, true
		}
	}
	return "", false
}

// ValidDuration reports whether d is one of DurationOptions.
func ValidDuration(d string) bool {
	for _, opt := range DurationOptions {
		if d == opt {
			return true
		}
	}
	return false
}

// FirstStep is the first question step of a program.
func FirstStep(p Program) Step {
	switch p {
	case Oroscan:
		return StepOroscanMedical
	case Medtech:
		return StepMedtechDietary
	}
	return StepSelectType
}

// CaptureStep is the image or device step that ends a program's sequence.
func CaptureStep(p Program) Step {
	switch p {
	case Oroscan:
		return StepOroscanImages
	case Medtech:
		return StepMedtechDevice
	}
	return ""
}

// Sequence is the ordered list of steps for a draft's program. Without a
// program only the first two steps are known.
func Sequence(p Program, preselected bool) []Step {
	head := []Step{StepPatientInfo}
	if !preselected {
		head = append(head, StepSelectType)
	}
	switch p {
	case Oroscan:
		return append(head, StepOroscanMedical, StepOroscanFamily, StepOroscanFeatures, StepOroscanImages, StepSuccess)
	case Medtech:
		return append(head, StepMedtechDietary, StepMedtechMedical, StepMedtechLife, StepMedtechDevice, StepSuccess)
	}
	return []Step{StepPatientInfo, StepSelectType}
}
