package intent

// Kind is the classified purpose of a user query. Routing switches
// exhaustively over it; adding a specialist means adding a value here.
type Kind int

const (
	Unknown Kind = iota
	Summarizer
	RAGQA
	Research
	Flashcard
)

func (k Kind) String() string {
	switch k {
	case Summarizer:
		return "SUMMARIZER"
	case RAGQA:
		return "RAG_QA"
	case Research:
		return "RESEARCH"
	case Flashcard:
		return "FLASHCARD"
	default:
		return "UNKNOWN"
	}
}

// ParseKind maps a classifier label back to a Kind. Unrecognized labels
// resolve to Unknown rather than an error.
func ParseKind(label string) Kind {
	switch label {
	case "SUMMARIZER":
		return Summarizer
	case "RAG_QA":
		return RAGQA
	case "RESEARCH":
		return Research
	case "FLASHCARD":
		return Flashcard
	default:
		return Unknown
	}
}

// Intent is the classification result for a single query. It lives for one
// request/response cycle; only a summary of it is kept on the thread.
type Intent struct {
	Kind       Kind
	Confidence float64
	Entities   map[string]string
	Reasoning  string
}
