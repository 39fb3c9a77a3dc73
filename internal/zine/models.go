package zine

import (
	"strings"

	dErrors "anyzine/pkg/domain-errors"
)

// Zine is the structured document returned to the reader.
type Zine struct {
	Banner      string   `json:"banner"`
	Subheading  string   `json:"subheading"`
	Intro       string   `json:"intro"`
	MainArticle string   `json:"mainArticle"`
	Opinion     string   `json:"opinion"`
	FunFacts    []string `json:"funFacts"`
	Conclusion  string   `json:"conclusion"`
}

func (z *Zine) complete() bool {
	return z != nil && z.Banner != "" && z.MainArticle != ""
}

// GenerateRequest is the body of POST /api/generate-zine.
type GenerateRequest struct {
	Subject string `json:"subject"`
}

func (r *GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	return nil
}
