package intel

import "fmt"

// NewClient constructs the client for a source. This switch is the single
// place the closed enum meets its implementations; orchestration code
// never branches on source identity.
func NewClient(source Source, config ClientConfig) (Client, error) {
	switch source {
	case SourceDShield:
		return NewDShieldClient(config)
	case SourceVirusTotal:
		return NewVirusTotalClient(config)
	case SourceShodan:
		return NewShodanClient(config)
	case SourceAbuseIPDB:
		return NewAbuseIPDBClient(config)
	case SourceAlienVault:
		return NewAlienVaultClient(config)
	case SourceThreatFox:
		return NewThreatFoxClient(config)
	default:
		return nil, fmt.Errorf("unknown source: %s", source)
	}
}
