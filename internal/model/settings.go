package model

// Settings is the dynamic branding configuration served by GET /settings.
type Settings struct {
	NomEntreprise     string `json:"nomEntreprise,omitempty"`
	CouleurPrincipale string `json:"couleurPrincipale,omitempty"`
	Logo              string `json:"logo,omitempty"`
	Email             string `json:"email,omitempty"`
	Telephone         string `json:"telephone,omitempty"`
	Adresse           string `json:"adresse,omitempty"`
}

// Theme is the palette derived from Settings.
type Theme struct {
	Primary      string `json:"primary"`
	PrimaryHover string `json:"primaryHover"`
}
