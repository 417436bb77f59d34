package research

const genSchemaPrompt = `Generate a valid JSON schema based on the user's list description. The schema must describe the expected data structure accurately. It should be an object with an "items" keyword containing an array of flat elements with no nested fields, as the input list will be displayed as a table.

**Schema Properties:**
- **type**: Data type (e.g., object, array, string)
- **properties**: Object defining data properties with "type" and "description" keywords
- **required**: Array of names of required properties

# Steps

1. Analyze the list description.
2. Identify each property and its type.
3. Determine which properties are required.
4. Construct a flat JSON schema based on this information.

# Output Format

Respond only with the JSON schema, without any additional comments.

# Examples

**Example JSON Schema:**

{
  "title": "My Favorite Vegetables",
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "veggieName": {
            "type": "string",
            "description": "The name of the vegetable."
          },
          "veggieLike": {
            "type": "boolean",
            "description": "Do I like this vegetable?"
          }
        },
        "required": ["veggieName", "veggieLike"]
      }
    }
  },
  "required": ["items"]
}`

const searchQueriesPrompt = `Generate a precise list of search queries based on the user's list description. The queries should be designed to retrieve relevant and specific information from the web.

# Output Format

- Each query should be about one sentence long.
- Focus each query on a distinct aspect of the topic.

# Steps

1. Analyze the user's list description to identify key topics.
2. For each topic, construct a focused search query.
3. Ensure the queries are concise and targeted towards retrieving the most relevant information.

# Notes

- Avoid overly broad queries.
- Ensure queries are understandable and can be executed directly in a search engine.`

// searchQueriesSchema is the enforced output shape of the query generation
// stage: a list title plus the queries to run.
const searchQueriesSchema = `{
  "type": "object",
  "properties": {
    "title": {
      "type": "string",
      "description": "The title of the user's list."
    },
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "The list of search queries to be used for retrieval."
    }
  },
  "required": ["title", "queries"]
}`

const extractPrompt = `Create a precise and accurate list of items that matches the user's description.

Identify and extract relevant items from the provided content. Ensure that each item is handled separately. The list should be well-structured, detailed, and contain all necessary information according to the user's description.

# Steps

1. Read and understand the user's list description.
2. Scan the provided content for multiple items.
3. Identify and extract relevant items by matching them with the user's description.

# Notes

- Focus on recall by ensuring that all items relevant to the user's description are included.
- Handle the list in a way that maintains clarity and organization, even when dealing with multiple items.`

// EnhancePrompt is the system prompt for the prompt-enhancement endpoint.
const EnhancePrompt = `You are an expert at improving list descriptions to be more precise and detailed. Enhance the given prompt while maintaining its core intent and adding specific, relevant details that will help generate a better list.`
