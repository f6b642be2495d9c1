package iedserver

// AuthenticationParameter carries the credentials a client presented during
// association.
type AuthenticationParameter struct {
	Mechanism   AcseAuthenticationMechanism
	Password    []byte
	Certificate []byte
}

// IsoApplicationReference identifies the calling application.
type IsoApplicationReference struct {
	APTitle     []uint32
	AEQualifier int
}

// AuthenticatorHandler decides whether an association is accepted. The
// returned token is kept by the engine and is later available through
// ClientConnection.SecurityToken.
type AuthenticatorHandler func(param AuthenticationParameter, appRef IsoApplicationReference) (accepted bool, securityToken any)
