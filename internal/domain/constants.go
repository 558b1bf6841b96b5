package domain

const (
	SupportedSchemaVersion             = "1.0"
	ProtocolVersion                    = "2.0"
	SignatureAlgorithm                 = "RS256"
	DefaultFetchTimeoutSeconds         = 10
	DefaultKeyResolutionTimeoutSeconds = 10
	DefaultInvokeTimeoutSeconds        = 30
	DefaultIntegrityConcurrency        = 4
	DefaultVerifySignatures            = true
	DefaultAllowFileURLs               = false
	DefaultUserAgent                   = "eat/0.1"
	DefaultMaxDocumentBytes            = 8 * 1024 * 1024
	DefaultDiagnosticsBufferSize       = 256
	WellKnownDIDPath                   = "/.well-known/did.json"
	WellKnownJWKSPath                  = "/.well-known/jwks.json"
)
