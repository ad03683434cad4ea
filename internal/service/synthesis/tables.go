package synthesis

import "github.com/fairyhunter13/ai-legal-assistant/internal/domain"

// legalConcepts is the fixed vocabulary matched against provider text.
var legalConcepts = []string{
	"due process", "negligence", "breach of contract", "statute of limitations",
	"burden of proof", "warranty of habitability", "habitability", "eviction",
	"notice requirement", "security deposit", "retaliation", "discrimination",
	"reasonable accommodation", "damages", "injunction", "summary judgment",
	"standing", "precedent", "good faith", "fiduciary duty", "liability",
	"custody", "wrongful termination", "at-will employment", "fair use",
	"consideration", "mitigation", "quiet enjoyment", "unlawful detainer",
	"right of entry", "privacy", "informed consent", "statutory interpretation",
	"intellectual property", "defamation", "mediation", "arbitration",
}

var jurisdictionNotes = map[string]string{
	domain.JurisdictionCA:      "California statutes (for example the Civil Code and Code of Civil Procedure) often add tenant, consumer and employee protections beyond federal law; local ordinances may add more.",
	domain.JurisdictionNY:      "New York law combines state statutes with extensive New York City rules; rent-regulated housing follows separate procedures.",
	domain.JurisdictionTX:      "Texas statutes generally favor freedom of contract; check the Property Code and relevant county practice.",
	domain.JurisdictionUK:      "United Kingdom law differs between England and Wales, Scotland, and Northern Ireland; confirm which legal system applies.",
	domain.JurisdictionCanada:  "Canadian law is split between federal and provincial competence; most housing and employment questions are provincial.",
	domain.JurisdictionAus:     "Australian law varies by state and territory; tribunals such as NCAT or VCAT often have first jurisdiction.",
	domain.JurisdictionEU:      "European Union law sets minimum standards that member states implement nationally; the applicable national law still governs most disputes.",
	domain.JurisdictionIndia:   "Indian law mixes central statutes with state amendments; tribunal and court procedures differ between states.",
	domain.JurisdictionFederal: "United States federal law applies nationwide but most private disputes are governed by state law.",
}

var advisoryMarkers = []string{
	"you should", "you may want", "consider ", "we recommend", "i recommend", "recommended",
	"consult", "it is advisable", "make sure", "be sure to", "keep records", "document ",
	"file a", "send a", "contact ", "seek ",
}

var defaultActions = []string{
	"Consult a licensed attorney in your jurisdiction about your specific facts.",
	"Gather and preserve all relevant documents and communications.",
	"Note any deadlines or limitation periods that may apply.",
}

// strength keyword groups; each group applies at most once
var (
	strongBasisMarkers  = []string{"clear precedent", "well-established", "well established", "settled law", "binding precedent", "consistently held"}
	weakEvidenceMarkers = []string{"unclear", "disputed", "uncertain", "unsettled", "conflicting", "ambiguous"}
	evidenceMarkers     = []string{"evidence", "documentation", "records", "written notice", "in writing"}
	variesMarkers       = []string{"depends on", "varies by", "vary by", "may differ"}
)
