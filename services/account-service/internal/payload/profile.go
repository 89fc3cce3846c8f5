package payload

type ProfileResponse struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// UpdateProfileRequest carries only the fields to change; absent fields stay as they are.
type UpdateProfileRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"       validate:"omitempty,email"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
}

type UpdateProfileResponse struct {
	Message     string `json:"message"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

type Address struct {
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

type AddressResponse struct {
	Message string  `json:"message,omitempty"`
	Address Address `json:"address"`
}
