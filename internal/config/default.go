package config

import (
	"errors"
	"fmt"
	"os"
)

// DefaultFile is written by "ormql init"
const DefaultFile = `# ormql configuration
env: development

server:
  addr: ":8080"
  path: /graphql
  playground: true
  timeout: 30s
  rateLimit:
    rps: 0      # 0 disables rate limiting
    burst: 0

database:
  driver: sqlite   # postgres, mysql or sqlite
  dsn: "file:ormql.db?_pragma=foreign_keys(1)"
  migrations: ""   # optional SQL file run at startup

auth:
  jwtSecret: ""    # or ORMQL_JWT_SECRET

schema:
  whitelist: []
  blacklist: []    # "Model", "Model.field" or "field"

models:
  - name: User
    attributes:
      - name: name
        type: STRING
        allowNull: false
      - name: email
        type: STRING
    associations:
      - name: posts
        kind: hasMany
        target: Post
    excludeFields: [email]

  - name: Post
    description: A blog post
    operations:
      query: true
      mutation: true
      subscription: true
    attributes:
      - name: title
        type: STRING
        allowNull: false
      - name: body
        type: TEXT
      - name: authorId
        type: INTEGER
    associations:
      - name: author
        kind: belongsTo
        target: User
`

// ErrExists is returned by WriteDefault when the file is already there
var ErrExists = errors.New("config file already exists")

// WriteDefault writes DefaultFile to path. Existing files are kept unless
// force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultFile), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// PlaygroundEnabled reports the server.playground setting
func (c *Config) PlaygroundEnabled() bool {
	return c.Server.Playground == nil || *c.Server.Playground
}
