package model

// Provenance names for the external sources raw name strings come from.
// Overrides and learned variants are keyed by these.
const (
	SourceElectionsCanada    = "Elections Canada"
	SourceHansardXML         = "House of Commons, Hansard XML"
	SourceHoCMembers         = "House of Commons, Members"
	SourceHoCVoteDetails     = "Parliament, Chamber Vote Detail"
	SourceHoCConstituencies  = "Parliament, Constituencies"
	SourceLoPParliament      = "Library of Parliament, Parliament Details"
	SourceLoPParties         = "Library of Parliament, Political Parties"
	SourceLoPRelated         = "Library of Parliament, Related"
	SourceLoPParliamentarian = "Library of Parliament, Parliamentarian File"
	SourceOpenParliament     = "OpenParliament.ca"
	SourceWikipedia          = "Wikipedia"
	SourceManual             = "Manual"
)
