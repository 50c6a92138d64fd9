package models

// QuizAnswers maps a question id to the chosen answer id
type QuizAnswers map[string]string

// SkinScore is the analysis result attached to a scan session
type SkinScore struct {
	Overall         int      `json:"overall"`
	Acne            int      `json:"acne"`
	Hydration       int      `json:"hydration"`
	SunDamage       int      `json:"sunDamage"`
	Dryness         int      `json:"dryness"`
	Recommendations []string `json:"recommendations"`
	Issues          []string `json:"issues"`
}

// RoutineTime says when a routine step applies
type RoutineTime string

const (
	RoutineMorning RoutineTime = "morning"
	RoutineEvening RoutineTime = "evening"
	RoutineBoth    RoutineTime = "both"
)

// RoutineStep is one step of the daily skincare routine
type RoutineStep struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Icon        string      `json:"icon"`
	Time        RoutineTime `json:"time"`
	Completed   bool        `json:"completed,omitempty"`
}

// DefaultRoutineSteps returns the starter routine shown before any progress is saved
func DefaultRoutineSteps() []RoutineStep {
	return []RoutineStep{
		{ID: "1", Title: "Gentle Cleanser", Description: "Wash face with lukewarm water and a gentle cleanser to remove impurities without stripping natural oils.", Icon: "droplet", Time: RoutineBoth},
		{ID: "2", Title: "Hydrating Toner", Description: "Apply toner to balance pH levels and prepare skin for better absorption of following products.", Icon: "spray-can", Time: RoutineBoth},
		{ID: "3", Title: "Vitamin C Serum", Description: "Apply vitamin C serum to brighten skin and protect against environmental damage.", Icon: "sun", Time: RoutineMorning},
		{ID: "4", Title: "Moisturizer", Description: "Apply moisturizer to hydrate and lock in moisture.", Icon: "droplets", Time: RoutineBoth},
		{ID: "5", Title: "Sunscreen", Description: "Apply broad-spectrum SPF 30+ sunscreen to protect against UV damage.", Icon: "shield", Time: RoutineMorning},
		{ID: "6", Title: "Retinol Serum", Description: "Apply retinol serum to promote cell turnover and reduce signs of aging.", Icon: "moon", Time: RoutineEvening},
	}
}
