package symbols

// Universe represents a predefined stock universe
type Universe string

const (
	UniverseNifty50 Universe = "nifty50"
	UniverseCore    Universe = "core" // last-resort list
)

// GetUniverse returns the bare NSE codes for a given universe
func GetUniverse(u Universe) []string {
	switch u {
	case UniverseNifty50:
		return Nifty50Symbols
	case UniverseCore:
		return CoreSymbols
	default:
		return nil
	}
}

// CoreSymbols is used when nothing else can be loaded
var CoreSymbols = []string{
	"RELIANCE", "INFY", "TCS", "HDFCBANK", "ICICIBANK",
}

// Nifty50Symbols is the NIFTY 50 constituents (as of 2024)
var Nifty50Symbols = []string{
	"ADANIENT", "ADANIPORTS", "APOLLOHOSP", "ASIANPAINT", "AXISBANK",
	"BAJAJ-AUTO", "BAJFINANCE", "BAJAJFINSV", "BEL", "BHARTIARTL",
	"BPCL", "BRITANNIA", "CIPLA", "COALINDIA", "DRREDDY",
	"EICHERMOT", "GRASIM", "HCLTECH", "HDFCBANK", "HDFCLIFE",
	"HEROMOTOCO", "HINDALCO", "HINDUNILVR", "ICICIBANK", "INDUSINDBK",
	"INFY", "ITC", "JSWSTEEL", "KOTAKBANK", "LT",
	"M&M", "MARUTI", "NESTLEIND", "NTPC", "ONGC",
	"POWERGRID", "RELIANCE", "SBILIFE", "SBIN", "SHRIRAMFIN",
	"SUNPHARMA", "TATACONSUM", "TATAMOTORS", "TATASTEEL", "TCS",
	"TECHM", "TITAN", "TRENT", "ULTRACEMCO", "WIPRO",
}
