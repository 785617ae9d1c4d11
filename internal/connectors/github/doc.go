// Package github implements source adapters for GitHub repositories.
//
// Two adapters share one API client:
//
//   - IssuesAdapter: the issue tracker of each configured repository,
//     exposed as an "issues" table (and "pulls" when enabled).
//   - WikiAdapter: the markdown pages of each repository's wiki, read
//     through the git tree and blob API of the {repo}.wiki repository.
//
// # Authentication
//
// The CredentialsRef of a source names the environment variable holding a
// personal access token or OAuth access token. The token is wrapped in a
// static oauth2 token source. Without a CredentialsRef the adapters make
// unauthenticated requests, which GitHub limits to 60 per hour.
//
// # Configuration
//
// TableFilter lists the repositories as owner/repo. Endpoint optionally
// points at a GitHub Enterprise API base URL. Params:
//
//   - requests_per_second: proactive throttle (default 1.2).
//   - include_pulls: "true" to index pull requests as a "pulls" table.
//   - wiki_branch: wiki branch to read (default master).
//
// # Rate Limiting
//
// Requests pass a token bucket first, then the X-RateLimit headers of the
// previous response are checked; when the remaining quota drops below a
// reserve the client waits for the reset time or the context, whichever
// comes first.
package github
