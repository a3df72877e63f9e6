package mcpserver

// NeedFormatContract describes the Markdown format of need documents that
// LLM consumers should follow when writing documents.
const NeedFormatContract = `# Tiwaz Need Document Contract

A document is a Markdown file. Needs are declared in fenced blocks; the rest
of the file is ordinary Markdown and is ignored by the build.

## Need blocks

` + "````" + `markdown
# Authentication                    <- nearest heading becomes section_name

` + "```" + `need
type: req                           # REQUIRED - a configured need type
id: REQ_001                         # OPTIONAL - generated from the type prefix when omitted
title: Users log in with a password # REQUIRED
status: open                        # OPTIONAL - must be a configured status when statuses are set
tags: security, login               # OPTIONAL - comma or semicolon separated, or a YAML list
links: SPEC_001, SPEC_002.p1        # OPTIONAL - any configured link category
---
Free text content of the need.

Parts are written inline as :np:` + "`" + `(p1) the first part` + "`" + ` and referenced as REQ_001.p1.
` + "```" + `
` + "````" + `

## Other blocks

- ` + "`" + `needextend` + "`" + ` modifies needs after collection. ` + "`" + `target` + "`" + ` is an id or a
  filter expression; keys prefixed with ` + "`" + `+` + "`" + ` append, ` + "`" + `-` + "`" + ` delete, plain keys replace.
- ` + "`" + `needfilter` + "`" + ` records a filter result in needs.json. Fields: ` + "`" + `export_id` + "`" + `,
  ` + "`" + `filter` + "`" + `, ` + "`" + `status` + "`" + `, ` + "`" + `tags` + "`" + `, ` + "`" + `types` + "`" + `, ` + "`" + `sort_by` + "`" + `.

## Rules

1. **Ids are unique** across all documents. A duplicate aborts the build.
2. **Field values** may contain dynamic functions written as ` + "`" + `[[copy("id")]]` + "`" + `.
3. **Variants** select a value by condition: ` + "`" + `status: "[tag == 'x']:open, closed"` + "`" + `.
4. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
5. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "````" + `markdown
# Login

` + "```" + `need
type: spec
id: SPEC_001
title: Login form
links: REQ_001
---
A form with user name and password fields.
` + "```" + `

` + "```" + `needfilter
export_id: open_reqs
types: req
status: open
` + "```" + `
` + "````" + `
`
