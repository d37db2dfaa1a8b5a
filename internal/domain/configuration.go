package domain

// SetupConfiguration is the per-restaurant payload executed by the
// automated-setup step, grouped into the sections the setup service expects.
type SetupConfiguration struct {
	Account    AccountConfig    `json:"account"`
	Restaurant RestaurantConfig `json:"restaurant"`
	Menu       MenuConfig       `json:"menu"`
	Website    WebsiteConfig    `json:"website"`
	Payment    PaymentConfig    `json:"payment"`
	Onboarding OnboardingConfig `json:"onboarding"`
}

type AccountConfig struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	ContactName string `json:"contactName"`
	Phone       string `json:"phone"`
}

type RestaurantConfig struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Timezone string `json:"timezone"`
	Cuisine  string `json:"cuisine"`
}

type MenuConfig struct {
	SelectedMenuID string   `json:"selectedMenuId"`
	AvailableMenus []string `json:"availableMenus"`
	ImportImages   bool     `json:"importImages"`
}

type WebsiteConfig struct {
	Subdomain      string `json:"subdomain"`
	PrimaryColor   string `json:"primaryColor"`
	SecondaryColor string `json:"secondaryColor"`
	ShowGallery    bool   `json:"showGallery"`
}

type PaymentConfig struct {
	Provider       string `json:"provider"`
	AcceptsOnline  bool   `json:"acceptsOnline"`
	AcceptsAtDoor  bool   `json:"acceptsAtDoor"`
	SettlementDays int    `json:"settlementDays"`
}

type OnboardingConfig struct {
	SendWelcomeEmail bool   `json:"sendWelcomeEmail"`
	AssignedManager  string `json:"assignedManager"`
	Notes            string `json:"notes"`
}

// Configured reports whether the job's draft is eligible for execution. A
// draft counts as configured once the account password is non-empty.
func (c *SetupConfiguration) Configured() bool {
	return c != nil && c.Account.Password != ""
}

// Equal compares two configurations field by field. Used to decide whether a
// draft needs saving before execution.
func (c *SetupConfiguration) Equal(other *SetupConfiguration) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Account != other.Account ||
		c.Restaurant != other.Restaurant ||
		c.Website != other.Website ||
		c.Payment != other.Payment ||
		c.Onboarding != other.Onboarding {
		return false
	}
	if c.Menu.SelectedMenuID != other.Menu.SelectedMenuID ||
		c.Menu.ImportImages != other.Menu.ImportImages ||
		len(c.Menu.AvailableMenus) != len(other.Menu.AvailableMenus) {
		return false
	}
	for i := range c.Menu.AvailableMenus {
		if c.Menu.AvailableMenus[i] != other.Menu.AvailableMenus[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the configuration.
func (c *SetupConfiguration) Clone() *SetupConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.Menu.AvailableMenus = append([]string(nil), c.Menu.AvailableMenus...)
	return &out
}
